package chat

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ChatPort defines the interface other modules use to reach the chat module.
type ChatPort interface {
	GetOrCreateConversation(ctx context.Context, a, b string) (ConversationResponse, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationResponse, error)
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int, order Order) ([]domain.Message, error)
	GetHistory(ctx context.Context, conversationID, requestingUserID string) ([]domain.Message, error)
}

// chatAdapter implements ChatPort using the service container.
type chatAdapter struct {
	container mono.ServiceContainer
}

// NewChatAdapter creates a new adapter for the chat services.
func NewChatAdapter(container mono.ServiceContainer) ChatPort {
	if container == nil {
		panic("chat adapter requires a non-nil ServiceContainer")
	}
	return &chatAdapter{container: container}
}

func (a *chatAdapter) call(ctx context.Context, service string, req, resp any) error {
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return mapServiceError(fmt.Errorf("%s request failed: %w", service, err))
	}
	return nil
}

// GetOrCreateConversation returns the conversation of a participant pair.
func (a *chatAdapter) GetOrCreateConversation(ctx context.Context, first, second string) (ConversationResponse, error) {
	req := GetOrCreateConversationRequest{ParticipantA: first, ParticipantB: second}
	var resp ConversationResponse
	if err := a.call(ctx, ServiceGetOrCreateConversation, &req, &resp); err != nil {
		return ConversationResponse{}, err
	}
	return resp, nil
}

// GetConversation retrieves a conversation by ID.
func (a *chatAdapter) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	req := GetConversationRequest{ConversationID: conversationID}
	var resp ConversationResponse
	if err := a.call(ctx, ServiceGetConversation, &req, &resp); err != nil {
		return domain.Conversation{}, err
	}
	return resp.ToConversation(), nil
}

// ListConversations lists the conversations of a user.
func (a *chatAdapter) ListConversations(ctx context.Context, userID string) ([]ConversationResponse, error) {
	req := ListConversationsRequest{UserID: userID}
	var resp ListConversationsResponse
	if err := a.call(ctx, ServiceListConversations, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// AppendMessage persists a message.
func (a *chatAdapter) AppendMessage(ctx context.Context, conversationID, senderID, content string) (domain.Message, error) {
	req := AppendMessageRequest{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	var resp MessageResponse
	if err := a.call(ctx, ServiceAppendMessage, &req, &resp); err != nil {
		return domain.Message{}, err
	}
	return resp.Message, nil
}

// ListMessages lists the most recent messages of a conversation.
func (a *chatAdapter) ListMessages(ctx context.Context, conversationID string, limit int, order Order) ([]domain.Message, error) {
	req := ListMessagesRequest{
		ConversationID: conversationID,
		Limit:          limit,
		Order:          order,
	}
	var resp MessagesResponse
	if err := a.call(ctx, ServiceListMessages, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetHistory reads a conversation's history on behalf of a user.
func (a *chatAdapter) GetHistory(ctx context.Context, conversationID, requestingUserID string) ([]domain.Message, error) {
	req := GetHistoryRequest{
		ConversationID:   conversationID,
		RequestingUserID: requestingUserID,
	}
	var resp MessagesResponse
	if err := a.call(ctx, ServiceGetHistory, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
