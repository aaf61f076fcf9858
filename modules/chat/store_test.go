package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConversation creates a conversation between a and b for store tests.
func newConversation(t *testing.T, svc *testServices, a, b string) *domain.Conversation {
	t.Helper()
	conv, _, err := svc.directory.GetOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(step)
		return now
	}
}

func TestMessageStore_Append(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")

	msg, err := svc.store.Append(context.Background(), conv.ID, "alice", "hello")
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero())

	count, err := NewMessageRepository(svc.db).Count(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	sent := svc.publisher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, msg.ID, sent[0].MessageID)
	assert.Equal(t, "bob", sent[0].RecipientID)
}

func TestMessageStore_Append_RejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "empty", content: "", wantErr: ErrEmptyContent},
		{name: "spaces", content: "   ", wantErr: ErrEmptyContent},
		{name: "tabs and newlines", content: "\t\n \r\n", wantErr: ErrEmptyContent},
		{name: "too long", content: strings.Repeat("x", MaxContentLength+1), wantErr: ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestServices(t)
			conv := newConversation(t, svc, "alice", "bob")

			msg, err := svc.store.Append(context.Background(), conv.ID, "alice", tt.content)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Nil(t, msg)

			count, err := NewMessageRepository(svc.db).Count(context.Background(), conv.ID)
			require.NoError(t, err)
			assert.Zero(t, count)
			assert.Empty(t, svc.publisher.sent())
		})
	}
}

func TestMessageStore_Append_UnknownConversation(t *testing.T) {
	svc := newTestServices(t)

	_, err := svc.store.Append(context.Background(), "missing", "alice", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, svc.publisher.sent())
}

func TestMessageStore_Append_NonParticipant(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")

	_, err := svc.store.Append(context.Background(), conv.ID, "mallory", "hi")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMessageStore_Append_CreatedAtNeverDecreases(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")

	// The wall clock steps backwards between appends.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.store.now = steppingClock(base, -time.Second)

	var previous time.Time
	for i := 0; i < 5; i++ {
		msg, err := svc.store.Append(context.Background(), conv.ID, "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		assert.False(t, msg.CreatedAt.Before(previous), "created_at went backwards at %d", i)
		previous = msg.CreatedAt
	}

	msgs, err := svc.store.List(context.Background(), conv.ID, 10, OrderAscending)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
	}
}

func TestMessageStore_List_CapsAtMostRecentHundred(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	svc.store.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)
	for i := 0; i < 150; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		_, err := svc.store.Append(ctx, conv.ID, sender, fmt.Sprintf("message %03d", i))
		require.NoError(t, err)
	}

	msgs, err := svc.store.List(ctx, conv.ID, 0, OrderAscending)
	require.NoError(t, err)
	require.Len(t, msgs, MaxHistorySize)

	assert.Equal(t, "message 050", msgs[0].Content)
	assert.Equal(t, "message 149", msgs[len(msgs)-1].Content)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "out of order at %d", i)
	}
}

func TestMessageStore_List_Limits(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	svc.store.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	for i := 0; i < 120; i++ {
		_, err := svc.store.Append(ctx, conv.ID, "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		limit     int
		order     Order
		wantLen   int
		wantFirst string
	}{
		{name: "small limit ascending", limit: 3, order: OrderAscending, wantLen: 3, wantFirst: "m117"},
		{name: "small limit descending", limit: 3, order: OrderDescending, wantLen: 3, wantFirst: "m119"},
		{name: "negative limit clamps", limit: -1, order: OrderAscending, wantLen: MaxHistorySize, wantFirst: "m20"},
		{name: "oversized limit clamps", limit: 1000, order: OrderAscending, wantLen: MaxHistorySize, wantFirst: "m20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := svc.store.List(ctx, conv.ID, tt.limit, tt.order)
			require.NoError(t, err)
			require.Len(t, msgs, tt.wantLen)
			assert.Equal(t, tt.wantFirst, msgs[0].Content)
		})
	}
}

func TestMessageStore_List_UnknownConversation(t *testing.T) {
	svc := newTestServices(t)

	msgs, err := svc.store.List(context.Background(), "missing", 10, OrderAscending)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, msgs)
}

func TestMessageStore_List_EmptyConversation(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")

	msgs, err := svc.store.List(context.Background(), conv.ID, 10, OrderAscending)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestMessageStore_Append_ConcurrentSameConversation(t *testing.T) {
	svc := newTestServices(t)
	conv := newConversation(t, svc, "alice", "bob")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.store.Append(ctx, conv.ID, "bob", fmt.Sprintf("c%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := svc.store.List(ctx, conv.ID, 0, OrderAscending)
	require.NoError(t, err)
	require.Len(t, msgs, 30)

	// Storage order and event order agree.
	sent := svc.publisher.sent()
	require.Len(t, sent, 30)
	for i := range msgs {
		assert.Equal(t, msgs[i].ID, sent[i].MessageID)
	}
}
