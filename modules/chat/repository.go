package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	domain "github.com/example/marketplace-chat/domain/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository handles conversation persistence using GORM.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateIfAbsent inserts the conversation unless one with the same pair key
// already exists. It reports whether a row was inserted.
func (r *ConversationRepository) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).
		Create(conv)
	if result.Error != nil {
		return false, fmt.Errorf("%w: failed to create conversation: %v", ErrPersistence, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FindByID finds a conversation by ID.
func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to find conversation: %v", ErrPersistence, err)
	}
	return &conv, nil
}

// FindByPairKey finds the conversation of a participant pair.
func (r *ConversationRepository) FindByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "pair_key = ?", pairKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to find conversation: %v", ErrPersistence, err)
	}
	return &conv, nil
}

// FindByParticipant lists the conversations a user takes part in, newest first.
func (r *ConversationRepository) FindByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", ErrPersistence, err)
	}
	return convs, nil
}

// MessageRepository handles message persistence using GORM.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create saves a new message.
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("%w: failed to create message: %v", ErrPersistence, err)
	}
	return nil
}

// Latest returns the newest message of a conversation, or nil when
// the conversation has none.
func (r *MessageRepository) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read latest message: %v", ErrPersistence, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// FindRecent returns the most recent `limit` messages of a conversation in
// the requested order.
func (r *MessageRepository) FindRecent(ctx context.Context, conversationID string, limit int, order Order) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list messages: %v", ErrPersistence, err)
	}

	if order == OrderAscending {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

// Count returns the number of messages stored for a conversation.
func (r *MessageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %v", ErrPersistence, err)
	}
	return count, nil
}
