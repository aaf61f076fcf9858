package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/marketplace-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// ServiceGetInbox returns a user's inbox entries.
const ServiceGetInbox = "get-inbox"

// GetInboxRequest asks for a user's inbox.
type GetInboxRequest struct {
	UserID string `json:"user_id"`
}

// GetInboxResponse carries a user's inbox, most recent first.
type GetInboxResponse struct {
	Entries []InboxEntry `json:"entries"`
}

// ActivityModule consumes chat events and keeps per-user inboxes.
type ActivityModule struct {
	store  *InboxStore
	logger types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*ActivityModule)(nil)
	_ mono.EventConsumerModule   = (*ActivityModule)(nil)
	_ mono.ServiceProviderModule = (*ActivityModule)(nil)
	_ mono.HealthCheckableModule = (*ActivityModule)(nil)
)

// NewModule creates a new activity module.
func NewModule(logger types.Logger) *ActivityModule {
	return &ActivityModule{
		store:  NewInboxStore(),
		logger: logger,
	}
}

// Name returns the module name.
func (m *ActivityModule) Name() string {
	return "activity"
}

// RegisterEventConsumers registers event handlers for chat events.
func (m *ActivityModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.ConversationCreatedV1, m.handleConversationCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register ConversationCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", []string{"ConversationCreated.v1", "MessageSent.v1"})
	return nil
}

func (m *ActivityModule) handleConversationCreated(_ context.Context, event events.ConversationCreatedEvent, _ *mono.Msg) error {
	m.store.RecordConversation(event.ConversationID, event.ParticipantA, event.ParticipantB, event.CreatedAt)
	m.logger.Debug("Recorded conversation", "conversation_id", event.ConversationID)
	return nil
}

func (m *ActivityModule) handleMessageSent(_ context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	m.store.RecordMessage(
		event.MessageID,
		event.ConversationID,
		event.SenderID,
		event.RecipientID,
		event.Content,
		event.CreatedAt,
	)
	m.logger.Debug("Recorded message",
		"conversation_id", event.ConversationID,
		"message_id", event.MessageID)
	return nil
}

// Start initializes the activity module.
func (m *ActivityModule) Start(_ context.Context) error {
	m.logger.Info("Module started")
	return nil
}

// Stop gracefully shuts down the module.
func (m *ActivityModule) Stop(_ context.Context) error {
	m.logger.Info("Module stopped", "users", m.store.Users())
	return nil
}

// Health returns the health status.
func (m *ActivityModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"users": m.store.Users()},
	}
}

// RegisterServices registers this module's services in the service container.
func (m *ActivityModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceGetInbox,
		json.Unmarshal,
		json.Marshal,
		m.handleGetInbox,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetInbox, err)
	}

	m.logger.Info("Registered services", "services", []string{ServiceGetInbox})
	return nil
}

func (m *ActivityModule) handleGetInbox(_ context.Context, req GetInboxRequest, _ *mono.Msg) (GetInboxResponse, error) {
	if req.UserID == "" {
		return GetInboxResponse{}, fmt.Errorf("user id is required")
	}
	return GetInboxResponse{Entries: m.store.Inbox(req.UserID)}, nil
}
