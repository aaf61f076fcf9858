package activity

import (
	"cmp"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	// previewLength is the number of runes kept from the last message.
	previewLength = 80
	// recentPerConversation is how many message ids per conversation are
	// remembered for redelivery detection.
	recentPerConversation = 256
)

// InboxEntry summarizes one conversation from a user's point of view.
type InboxEntry struct {
	ConversationID string    `json:"conversation_id"`
	PeerID         string    `json:"peer_id"`
	MessageCount   int64     `json:"message_count"`
	LastSenderID   string    `json:"last_sender_id,omitempty"`
	LastPreview    string    `json:"last_preview,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// activityAt orders entries: last message time, or creation time when the
// conversation is still empty.
func (e InboxEntry) activityAt() time.Time {
	if e.LastMessageAt.IsZero() {
		return e.CreatedAt
	}
	return e.LastMessageAt
}

// InboxStore is the in-memory inbox read model, built from chat events.
type InboxStore struct {
	mu    sync.RWMutex
	users map[string]map[string]*InboxEntry // user id -> conversation id -> entry
	seen  map[string][]string               // conversation id -> recently counted message ids
}

// NewInboxStore creates an empty store.
func NewInboxStore() *InboxStore {
	return &InboxStore{
		users: make(map[string]map[string]*InboxEntry),
		seen:  make(map[string][]string),
	}
}

func (s *InboxStore) entry(userID, conversationID, peerID string) *InboxEntry {
	entries, ok := s.users[userID]
	if !ok {
		entries = make(map[string]*InboxEntry)
		s.users[userID] = entries
	}
	e, ok := entries[conversationID]
	if !ok {
		e = &InboxEntry{ConversationID: conversationID, PeerID: peerID}
		entries[conversationID] = e
	}
	return e
}

// RecordConversation adds a conversation to both participants' inboxes.
func (s *InboxStore) RecordConversation(conversationID, a, b string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		e := s.entry(pair[0], conversationID, pair[1])
		if e.CreatedAt.IsZero() || createdAt.Before(e.CreatedAt) {
			e.CreatedAt = createdAt
		}
	}
}

// RecordMessage updates both participants' entries for a message. A
// redelivered message is counted once as long as it is among the
// conversation's most recent ids.
func (s *InboxStore) RecordMessage(messageID, conversationID, senderID, recipientID, content string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.seen[conversationID]
	if lo.Contains(recent, messageID) {
		return
	}
	if len(recent) == recentPerConversation {
		recent = recent[1:]
	}
	s.seen[conversationID] = append(recent, messageID)

	for _, pair := range [][2]string{{senderID, recipientID}, {recipientID, senderID}} {
		if pair[0] == "" {
			continue
		}
		e := s.entry(pair[0], conversationID, pair[1])
		if e.CreatedAt.IsZero() {
			e.CreatedAt = createdAt
		}
		e.MessageCount++
		if !createdAt.Before(e.LastMessageAt) {
			e.LastMessageAt = createdAt
			e.LastSenderID = senderID
			e.LastPreview = preview(content)
		}
	}
}

// Inbox returns a user's entries, most recently active first.
func (s *InboxStore) Inbox(userID string) []InboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := lo.MapToSlice(s.users[userID], func(_ string, e *InboxEntry) InboxEntry {
		return *e
	})
	slices.SortFunc(entries, func(x, y InboxEntry) int {
		if c := y.activityAt().Compare(x.activityAt()); c != 0 {
			return c
		}
		return cmp.Compare(x.ConversationID, y.ConversationID)
	})
	return entries
}

// Users returns the number of users with at least one entry.
func (s *InboxStore) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}
