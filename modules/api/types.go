package api

import (
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/chat"
)

// CreateConversationRequest opens (or finds) the conversation between the
// caller and participant_id. The explicit pair form is accepted when the
// caller is one of the two.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id" validate:"required_without_all=ParticipantA ParticipantB,max=128"`
	ParticipantA  string `json:"participant_a" validate:"required_with=ParticipantB,max=128"`
	ParticipantB  string `json:"participant_b" validate:"required_with=ParticipantA,max=128"`
}

// SendMessageRequest publishes a message over REST.
type SendMessageRequest struct {
	Content string `json:"content" validate:"maxbytes=4096"`
}

// ConversationResponse is a conversation record.
type ConversationResponse struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// InboxItem is one conversation of the caller's inbox.
type InboxItem struct {
	ConversationResponse
	PeerID        string    `json:"peer_id"`
	MessageCount  int64     `json:"message_count"`
	LastSenderID  string    `json:"last_sender_id,omitempty"`
	LastPreview   string    `json:"last_preview,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

// InboxResponse lists the caller's conversations.
type InboxResponse struct {
	Conversations []InboxItem `json:"conversations"`
	Total         int         `json:"total"`
}

// MessageResponse is a persisted message.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryQuery narrows the history listing. Without it the full bounded
// history is returned oldest-first; limits above the cap are clamped.
type HistoryQuery struct {
	Limit int    `json:"limit" query:"limit" validate:"min=0"`
	Order string `json:"order" query:"order" validate:"omitempty,oneof=asc desc"`
}

// HistoryResponse is a conversation's bounded history.
type HistoryResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
	Total          int               `json:"total"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toConversationResponse(c chat.ConversationResponse) ConversationResponse {
	return ConversationResponse{
		ID:           c.ID,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
	}
}

func toInboxItem(userID string, c chat.ConversationResponse, entry *activity.InboxEntry) InboxItem {
	item := InboxItem{
		ConversationResponse: toConversationResponse(c),
		PeerID:               c.ToConversation().Peer(userID),
	}
	if entry != nil {
		item.MessageCount = entry.MessageCount
		item.LastSenderID = entry.LastSenderID
		item.LastPreview = entry.LastPreview
		item.LastMessageAt = entry.LastMessageAt
	}
	return item
}

func toMessageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
