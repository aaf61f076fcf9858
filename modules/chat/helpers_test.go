package chat

import (
	"sync"
	"testing"

	"github.com/example/marketplace-chat/events"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/gorm"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu            sync.Mutex
	conversations []events.ConversationCreatedEvent
	messages      []events.MessageSentEvent
}

func (p *recordingPublisher) PublishConversationCreated(event events.ConversationCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conversations = append(p.conversations, event)
	return nil
}

func (p *recordingPublisher) PublishMessageSent(event events.MessageSentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, event)
	return nil
}

func (p *recordingPublisher) sent() []events.MessageSentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.MessageSentEvent(nil), p.messages...)
}

func (p *recordingPublisher) created() []events.ConversationCreatedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ConversationCreatedEvent(nil), p.conversations...)
}

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

// testServices wires the chat services over a fresh database.
type testServices struct {
	db        *gorm.DB
	directory *Directory
	store     *MessageStore
	history   *HistoryService
	publisher *recordingPublisher
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	db := setupTestDB(t)
	publisher := &recordingPublisher{}
	logger := &mockLogger{}

	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)
	directory := NewDirectory(conversations, publisher, logger)
	store := NewMessageStore(conversations, messages, publisher, logger)

	return &testServices{
		db:        db,
		directory: directory,
		store:     store,
		history:   NewHistoryService(directory, store),
		publisher: publisher,
	}
}
