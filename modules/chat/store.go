package chat

import (
	"context"
	"strings"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/events"
	"github.com/example/marketplace-chat/keylock"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// MessageStore is the persisted, ordered log of messages per conversation.
type MessageStore struct {
	conversations *ConversationRepository
	messages      *MessageRepository
	locks         *keylock.Map
	publisher     EventPublisher
	logger        types.Logger
	now           func() time.Time
}

// NewMessageStore creates a new message store.
func NewMessageStore(
	conversations *ConversationRepository,
	messages *MessageRepository,
	publisher EventPublisher,
	logger types.Logger,
) *MessageStore {
	return &MessageStore{
		conversations: conversations,
		messages:      messages,
		locks:         keylock.New(),
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

// ValidateContent rejects empty, whitespace-only and oversized content.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// Append validates and durably stores a new message.
//
// Appends to one conversation are serialized, so created_at never decreases
// within a conversation and MessageSent events leave in storage order.
func (s *MessageStore) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversation
	}

	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	createdAt := s.now().UTC()
	latest, err := s.messages.Latest(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest != nil && createdAt.Before(latest.CreatedAt) {
		createdAt = latest.CreatedAt
	}

	msg := &domain.Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		s.logger.Error("Failed to persist message",
			"conversationID", conversationID,
			"error", err)
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessageSent(events.MessageSentEvent{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			RecipientID:    conv.Peer(senderID),
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		}); err != nil {
			s.logger.Warn("Failed to publish MessageSent event", "error", err)
		}
	}

	return msg, nil
}

// List returns at most MaxHistorySize of the most recent messages of a
// conversation. A limit outside (0, MaxHistorySize] is clamped to the cap.
func (s *MessageStore) List(ctx context.Context, conversationID string, limit int, order Order) ([]domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversation
	}
	if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > MaxHistorySize {
		limit = MaxHistorySize
	}

	msgs, err := s.messages.FindRecent(ctx, conversationID, limit, order)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// newMessageID returns a time-ordered UUID so that ties on created_at are
// broken in insertion order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
