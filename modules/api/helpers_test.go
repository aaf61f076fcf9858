package api

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/auth"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
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

// mockAuthPort implements auth.AuthPort for testing
type mockAuthPort struct {
	validateTokenFunc func(ctx context.Context, token string) (*auth.Claims, error)
}

func (m *mockAuthPort) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

// tokenAuth accepts "token-<user>" as the token of <user>.
func tokenAuth() *mockAuthPort {
	return &mockAuthPort{
		validateTokenFunc: func(_ context.Context, token string) (*auth.Claims, error) {
			const prefix = "token-"
			if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
				return nil, fmt.Errorf("%w: invalid token", auth.ErrUnauthenticated)
			}
			return &auth.Claims{UserID: token[len(prefix):]}, nil
		},
	}
}

// fakeChat is an in-memory chat.ChatPort.
type fakeChat struct {
	mu       sync.Mutex
	convs    map[string]domain.Conversation
	messages map[string][]domain.Message
	seq      int

	appendErr error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		convs:    make(map[string]domain.Conversation),
		messages: make(map[string][]domain.Message),
	}
}

func (f *fakeChat) GetOrCreateConversation(_ context.Context, a, b string) (chat.ConversationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a == "" || b == "" {
		return chat.ConversationResponse{}, chat.ErrMissingParticipant
	}
	if a == b {
		return chat.ConversationResponse{}, chat.ErrSameParticipant
	}
	key := domain.PairKey(a, b)
	for _, c := range f.convs {
		if c.PairKey == key {
			return chat.ConversationResponse{ID: c.ID, Participants: c.Participants(), CreatedAt: c.CreatedAt}, nil
		}
	}
	f.seq++
	conv := domain.NewConversation(fmt.Sprintf("conv-%d", f.seq), a, b, time.Now().UTC())
	f.convs[conv.ID] = *conv
	return chat.ConversationResponse{ID: conv.ID, Participants: conv.Participants(), CreatedAt: conv.CreatedAt, Created: true}, nil
}

func (f *fakeChat) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, chat.ErrNotFound
	}
	return conv, nil
}

func (f *fakeChat) ListConversations(_ context.Context, userID string) ([]chat.ConversationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []chat.ConversationResponse
	for _, c := range f.convs {
		if c.HasParticipant(userID) {
			out = append(out, chat.ConversationResponse{ID: c.ID, Participants: c.Participants(), CreatedAt: c.CreatedAt})
		}
	}
	return out, nil
}

func (f *fakeChat) AppendMessage(_ context.Context, conversationID, senderID, content string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return domain.Message{}, f.appendErr
	}
	if err := chat.ValidateContent(content); err != nil {
		return domain.Message{}, err
	}
	conv, ok := f.convs[conversationID]
	if !ok {
		return domain.Message{}, chat.ErrNotFound
	}
	if !conv.HasParticipant(senderID) {
		return domain.Message{}, chat.ErrForbidden
	}
	f.seq++
	msg := domain.Message{
		ID:             fmt.Sprintf("msg-%d", f.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return msg, nil
}

func (f *fakeChat) ListMessages(_ context.Context, conversationID string, limit int, order chat.Order) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := append([]domain.Message(nil), f.messages[conversationID]...)
	if limit <= 0 || limit > chat.MaxHistorySize {
		limit = chat.MaxHistorySize
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if order == chat.OrderDescending {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

func (f *fakeChat) GetHistory(ctx context.Context, conversationID, requestingUserID string) ([]domain.Message, error) {
	conv, err := f.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requestingUserID) {
		return nil, chat.ErrForbidden
	}
	return f.ListMessages(ctx, conversationID, chat.MaxHistorySize, chat.OrderAscending)
}

// mockActivityPort implements activity.ActivityPort for testing
type mockActivityPort struct {
	getInboxFunc func(ctx context.Context, userID string) ([]activity.InboxEntry, error)
}

func (m *mockActivityPort) GetInbox(ctx context.Context, userID string) ([]activity.InboxEntry, error) {
	if m.getInboxFunc != nil {
		return m.getInboxFunc(ctx, userID)
	}
	return nil, nil
}

type testServer struct {
	app      *fiber.App
	chat     *fakeChat
	activity *mockActivityPort
	channel  *room.Channel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	chatPort := newFakeChat()
	activityPort := &mockActivityPort{}
	channel := room.NewChannel(chatPort, &mockLogger{}, room.Options{})
	channel.Start()
	t.Cleanup(channel.Close)

	var n int
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("conn-%d", n)
	}

	handlers := NewHandlers(chatPort, activityPort, channel, newID, &mockLogger{})
	return &testServer{
		app:      newApp(handlers, tokenAuth(), Config{}, nil),
		chat:     chatPort,
		activity: activityPort,
		channel:  channel,
	}
}
