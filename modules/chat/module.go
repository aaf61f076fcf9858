package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/marketplace-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/gorm"
)

// Service names exposed by the chat module.
const (
	ServiceGetOrCreateConversation = "get-or-create-conversation"
	ServiceGetConversation         = "get-conversation"
	ServiceListConversations       = "list-conversations"
	ServiceAppendMessage           = "append-message"
	ServiceListMessages            = "list-messages"
	ServiceGetHistory              = "get-history"
)

// ChatModule owns conversations and messages: the conversation directory,
// the message store and the history service.
type ChatModule struct {
	db        *gorm.DB
	dbPath    string
	directory *Directory
	store     *MessageStore
	history   *HistoryService
	eventBus  mono.EventBus
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*ChatModule)(nil)
	_ mono.ServiceProviderModule = (*ChatModule)(nil)
	_ mono.EventEmitterModule    = (*ChatModule)(nil)
	_ mono.HealthCheckableModule = (*ChatModule)(nil)
	_ EventPublisher             = (*ChatModule)(nil)
)

// NewModule creates a new ChatModule backed by the SQLite database at dbPath.
func NewModule(dbPath string, logger types.Logger) *ChatModule {
	return &ChatModule{
		dbPath: dbPath,
		logger: logger,
	}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *ChatModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *ChatModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.ConversationCreatedV1.ToBase(),
	}
}

// Start opens the database and builds the services.
func (m *ChatModule) Start(_ context.Context) error {
	db, err := OpenDatabase(m.dbPath)
	if err != nil {
		return err
	}
	m.db = db

	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	m.directory = NewDirectory(conversations, m, m.logger)
	m.store = NewMessageStore(conversations, messages, m, m.logger)
	m.history = NewHistoryService(m.directory, m.store)

	if m.eventBus == nil {
		m.logger.Warn("Event bus not set, chat events will not be published")
	}

	m.logger.Info("Chat module started", "database", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *ChatModule) Stop(_ context.Context) error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health reports database connectivity.
func (m *ChatModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"database": m.dbPath,
		},
	}
}

// PublishConversationCreated publishes a ConversationCreated event.
func (m *ChatModule) PublishConversationCreated(event events.ConversationCreatedEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.ConversationCreatedV1.Publish(m.eventBus, event, nil)
}

// PublishMessageSent publishes a MessageSent event.
func (m *ChatModule) PublishMessageSent(event events.MessageSentEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.MessageSentV1.Publish(m.eventBus, event, nil)
}

// RegisterServices registers request-reply services in the service container.
func (m *ChatModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetOrCreateConversation, json.Unmarshal, json.Marshal, m.handleGetOrCreateConversation,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetOrCreateConversation, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetConversation, json.Unmarshal, json.Marshal, m.handleGetConversation,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetConversation, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListConversations, json.Unmarshal, json.Marshal, m.handleListConversations,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListConversations, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAppendMessage, json.Unmarshal, json.Marshal, m.handleAppendMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceAppendMessage, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListMessages, json.Unmarshal, json.Marshal, m.handleListMessages,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListMessages, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetHistory, json.Unmarshal, json.Marshal, m.handleGetHistory,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetHistory, err)
	}

	m.logger.Info("Registered chat services",
		"services", []string{
			ServiceGetOrCreateConversation,
			ServiceGetConversation,
			ServiceListConversations,
			ServiceAppendMessage,
			ServiceListMessages,
			ServiceGetHistory,
		})
	return nil
}

// Service handler functions

func (m *ChatModule) handleGetOrCreateConversation(ctx context.Context, req GetOrCreateConversationRequest, _ *mono.Msg) (ConversationResponse, error) {
	conv, created, err := m.directory.GetOrCreate(ctx, req.ParticipantA, req.ParticipantB)
	if err != nil {
		return ConversationResponse{}, err
	}
	return toConversationResponse(conv, created), nil
}

func (m *ChatModule) handleGetConversation(ctx context.Context, req GetConversationRequest, _ *mono.Msg) (ConversationResponse, error) {
	conv, err := m.directory.Get(ctx, req.ConversationID)
	if err != nil {
		return ConversationResponse{}, err
	}
	return toConversationResponse(conv, false), nil
}

func (m *ChatModule) handleListConversations(ctx context.Context, req ListConversationsRequest, _ *mono.Msg) (ListConversationsResponse, error) {
	convs, err := m.directory.ListForUser(ctx, req.UserID)
	if err != nil {
		return ListConversationsResponse{}, err
	}

	resp := ListConversationsResponse{
		Conversations: make([]ConversationResponse, 0, len(convs)),
	}
	for i := range convs {
		resp.Conversations = append(resp.Conversations, toConversationResponse(&convs[i], false))
	}
	return resp, nil
}

func (m *ChatModule) handleAppendMessage(ctx context.Context, req AppendMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.store.Append(ctx, req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{Message: *msg}, nil
}

func (m *ChatModule) handleListMessages(ctx context.Context, req ListMessagesRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.store.List(ctx, req.ConversationID, req.Limit, ParseOrder(string(req.Order)))
	if err != nil {
		return MessagesResponse{}, err
	}
	return MessagesResponse{ConversationID: req.ConversationID, Messages: msgs}, nil
}

func (m *ChatModule) handleGetHistory(ctx context.Context, req GetHistoryRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.history.GetHistory(ctx, req.ConversationID, req.RequestingUserID)
	if err != nil {
		return MessagesResponse{}, err
	}
	return MessagesResponse{ConversationID: req.ConversationID, Messages: msgs}, nil
}
