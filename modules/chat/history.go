package chat

import (
	"context"

	domain "github.com/example/marketplace-chat/domain/chat"
)

// HistoryService authorizes and serves the bounded history of a conversation.
type HistoryService struct {
	directory *Directory
	store     *MessageStore
}

// NewHistoryService creates a new history service.
func NewHistoryService(directory *Directory, store *MessageStore) *HistoryService {
	return &HistoryService{
		directory: directory,
		store:     store,
	}
}

// GetHistory returns the most recent messages of a conversation, oldest
// first, if requestingUserID is one of its participants.
func (h *HistoryService) GetHistory(ctx context.Context, conversationID, requestingUserID string) ([]domain.Message, error) {
	conv, err := h.directory.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requestingUserID) {
		return nil, ErrForbidden
	}
	return h.store.List(ctx, conversationID, MaxHistorySize, OrderAscending)
}
