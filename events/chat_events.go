package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a message has been durably appended.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationCreatedEvent is emitted when the directory creates a new
// conversation for a participant pair.
type ConversationCreatedEvent struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantA   string    `json:"participant_a"`
	ParticipantB   string    `json:"participant_b"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event definitions for the chat domain.
var (
	// Subject: events.chat.v1.message-sent
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)

	// Subject: events.chat.v1.conversation-created
	ConversationCreatedV1 = helper.EventDefinition[ConversationCreatedEvent](
		"chat",
		"ConversationCreated",
		"v1",
	)
)
