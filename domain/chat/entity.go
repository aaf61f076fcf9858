package chat

import (
	"strings"
	"time"
)

// pairSeparator joins the two participant ids of a pair key. It is a control
// character so that it cannot collide with ordinary user ids.
const pairSeparator = "\x1f"

// Conversation is the durable thread between exactly two participants.
type Conversation struct {
	ID           string    `gorm:"primaryKey;type:text" json:"id"`
	ParticipantA string    `gorm:"not null;index;type:text" json:"participant_a"`
	ParticipantB string    `gorm:"not null;index;type:text" json:"participant_b"`
	PairKey      string    `gorm:"uniqueIndex;not null;type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the table name for the Conversation entity.
func (Conversation) TableName() string {
	return "conversations"
}

// Participants returns both participant ids in canonical order.
func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Peer returns the other participant from userID's point of view.
func (c Conversation) Peer(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// CanonicalPair orders two participant ids so that {a,b} and {b,a} map to the
// same conversation.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey returns the order-independent key of a participant pair.
func PairKey(a, b string) string {
	first, second := CanonicalPair(a, b)
	return first + pairSeparator + second
}

// NewConversation builds a conversation for the given pair with canonical
// participant order and pair key.
func NewConversation(id, a, b string, createdAt time.Time) *Conversation {
	first, second := CanonicalPair(strings.TrimSpace(a), strings.TrimSpace(b))
	return &Conversation{
		ID:           id,
		ParticipantA: first,
		ParticipantB: second,
		PairKey:      PairKey(first, second),
		CreatedAt:    createdAt,
	}
}

// Message is an immutable chat message within a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string    `gorm:"not null;type:text;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       string    `gorm:"not null;type:text" json:"sender_id"`
	Content        string    `gorm:"not null;type:text" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

// TableName returns the table name for the Message entity.
func (Message) TableName() string {
	return "messages"
}
