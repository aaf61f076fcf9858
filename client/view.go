package client

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/protocol"
	"github.com/samber/lo"
)

// View is one open conversation: its history plus every live delivery since
// the room was joined, without duplicates.
type View struct {
	session        *Session
	conversationID string

	mu       sync.Mutex
	messages map[string]domain.Message
	updates  chan struct{}
	closed   bool
}

// Open joins the conversation's room and loads its history. History is only
// requested once the server acknowledged the join, so nothing published in
// between is lost; a message seen on both paths is kept once.
func (s *Session) Open(ctx context.Context, conversationID string) (*View, error) {
	v := &View{
		session:        s,
		conversationID: conversationID,
		messages:       make(map[string]domain.Message),
		updates:        make(chan struct{}, 1),
	}

	// Listen before joining so no delivery after the ack is missed.
	s.mu.Lock()
	if s.rooms[conversationID] == nil {
		s.rooms[conversationID] = make(map[*View]struct{})
	}
	s.rooms[conversationID][v] = struct{}{}
	s.mu.Unlock()

	wait, err := s.sendJoin(conversationID)
	if err != nil {
		s.detach(v)
		return nil, fmt.Errorf("open %s: %w", conversationID, err)
	}

	err = s.awaitJoin(ctx, conversationID, wait)
	if err == nil {
		err = v.refresh(ctx)
	}
	if err != nil {
		if s.detach(v) {
			_ = s.write(protocol.NewLeave(conversationID))
		}
		return nil, fmt.Errorf("open %s: %w", conversationID, err)
	}
	return v, nil
}

// ConversationID returns the conversation this view shows.
func (v *View) ConversationID() string {
	return v.conversationID
}

// Messages returns the view's messages ordered by creation time, then id.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	msgs := lo.Values(v.messages)
	v.mu.Unlock()

	slices.SortFunc(msgs, func(a, b domain.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return msgs
}

// Updates signals, without blocking the session, that Messages changed.
func (v *View) Updates() <-chan struct{} {
	return v.updates
}

// Send publishes a message to the view's conversation.
func (v *View) Send(content string) error {
	return v.session.Publish(v.conversationID, content)
}

// Close leaves the room, unless another view of the same conversation is
// still open, and stops delivering to this view.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	if last := v.session.detach(v); !last {
		return nil
	}
	if err := v.session.write(protocol.NewLeave(v.conversationID)); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (v *View) add(msgs ...domain.Message) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	changed := false
	for _, m := range msgs {
		if _, ok := v.messages[m.ID]; ok {
			continue
		}
		v.messages[m.ID] = m
		changed = true
	}
	v.mu.Unlock()

	if changed {
		select {
		case v.updates <- struct{}{}:
		default:
		}
	}
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// refresh merges the conversation's REST history into the view.
func (v *View) refresh(ctx context.Context) error {
	s := v.session
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.historyURL(v.conversationID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.Token)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &HistoryError{StatusCode: resp.StatusCode, Message: body.Message}
	}

	var history historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("history response: %w", err)
	}
	v.add(history.Messages...)
	return nil
}

// HistoryError is a non-200 answer of the history endpoint.
type HistoryError struct {
	StatusCode int
	Message    string
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("history: %d %s", e.StatusCode, e.Message)
}

// detach removes a view from its room and reports whether it was the last one.
func (s *Session) detach(v *View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	views, ok := s.rooms[v.conversationID]
	if !ok {
		return false
	}
	delete(views, v)
	if len(views) > 0 {
		return false
	}
	delete(s.rooms, v.conversationID)
	return true
}
