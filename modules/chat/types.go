package chat

import (
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
)

// Validation and retrieval limits.
const (
	MaxContentLength = 4096
	MaxHistorySize   = 100
)

// Order selects the ordering of a message listing.
type Order string

const (
	// OrderAscending lists messages oldest-first.
	OrderAscending Order = "asc"
	// OrderDescending lists messages newest-first.
	OrderDescending Order = "desc"
)

// ParseOrder maps a query value to an Order, defaulting to ascending.
func ParseOrder(s string) Order {
	if Order(s) == OrderDescending {
		return OrderDescending
	}
	return OrderAscending
}

// Service request/response types. These travel as JSON over the service
// container.

// GetOrCreateConversationRequest asks for the conversation of a pair.
type GetOrCreateConversationRequest struct {
	ParticipantA string `json:"participant_a"`
	ParticipantB string `json:"participant_b"`
}

// ConversationResponse carries a conversation record.
type ConversationResponse struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	Created      bool      `json:"created,omitempty"`
}

// GetConversationRequest looks up a conversation by id.
type GetConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// ListConversationsRequest lists a user's conversations.
type ListConversationsRequest struct {
	UserID string `json:"user_id"`
}

// ListConversationsResponse carries a user's conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// AppendMessageRequest appends a message to a conversation.
type AppendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
}

// ListMessagesRequest lists the most recent messages of a conversation.
type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Order          Order  `json:"order,omitempty"`
}

// GetHistoryRequest reads the history of a conversation on behalf of a user.
type GetHistoryRequest struct {
	ConversationID   string `json:"conversation_id"`
	RequestingUserID string `json:"requesting_user_id"`
}

// MessagesResponse carries a bounded, ordered message sequence.
type MessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

// MessageResponse carries a single persisted message.
type MessageResponse struct {
	Message domain.Message `json:"message"`
}

func toConversationResponse(conv *domain.Conversation, created bool) ConversationResponse {
	return ConversationResponse{
		ID:           conv.ID,
		Participants: conv.Participants(),
		CreatedAt:    conv.CreatedAt,
		Created:      created,
	}
}

// ToConversation rebuilds a domain conversation from a response.
func (r ConversationResponse) ToConversation() domain.Conversation {
	var a, b string
	if len(r.Participants) > 0 {
		a = r.Participants[0]
	}
	if len(r.Participants) > 1 {
		b = r.Participants[1]
	}
	conv := domain.NewConversation(r.ID, a, b, r.CreatedAt)
	return *conv
}
