package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/events"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// EventPublisher publishes chat domain events. A nil publisher disables
// event emission.
type EventPublisher interface {
	PublishConversationCreated(event events.ConversationCreatedEvent) error
	PublishMessageSent(event events.MessageSentEvent) error
}

// Directory maps an unordered participant pair to its single conversation.
type Directory struct {
	repo      *ConversationRepository
	publisher EventPublisher
	logger    types.Logger
	now       func() time.Time
}

// NewDirectory creates a new conversation directory.
func NewDirectory(repo *ConversationRepository, publisher EventPublisher, logger types.Logger) *Directory {
	return &Directory{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrCreate returns the conversation of {a, b}, creating it on first contact.
// The boolean result reports whether this call created it.
//
// Concurrent calls for the same pair converge on one row: the insert is
// guarded by the unique pair key, and a losing insert re-reads the winner.
func (d *Directory) GetOrCreate(ctx context.Context, a, b string) (*domain.Conversation, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, false, ErrMissingParticipant
	}
	if a == b {
		return nil, false, ErrSameParticipant
	}

	key := domain.PairKey(a, b)
	existing, err := d.repo.FindByPairKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	conv := domain.NewConversation(uuid.NewString(), a, b, d.now().UTC())
	inserted, err := d.repo.CreateIfAbsent(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		winner, err := d.repo.FindByPairKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	d.logger.Info("Conversation created",
		"conversationID", conv.ID,
		"participantA", conv.ParticipantA,
		"participantB", conv.ParticipantB)

	if d.publisher != nil {
		if err := d.publisher.PublishConversationCreated(events.ConversationCreatedEvent{
			ConversationID: conv.ID,
			ParticipantA:   conv.ParticipantA,
			ParticipantB:   conv.ParticipantB,
			CreatedAt:      conv.CreatedAt,
		}); err != nil {
			d.logger.Warn("Failed to publish ConversationCreated event", "error", err)
		}
	}

	return conv, true, nil
}

// Get returns a conversation by id.
func (d *Directory) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingConversation
	}
	return d.repo.FindByID(ctx, id)
}

// ListForUser returns the conversations userID takes part in.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingParticipant
	}
	convs, err := d.repo.FindByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}
