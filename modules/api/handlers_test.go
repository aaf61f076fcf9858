package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) do(t *testing.T, method, path, user, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer token-"+user)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func (s *testServer) conversation(t *testing.T, a, b string) string {
	t.Helper()
	conv, err := s.chat.GetOrCreateConversation(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing authorization header",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Authorization header is required"`,
		},
		{
			name:           "invalid authorization format - no bearer",
			authHeader:     "Basic token123",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `Invalid authorization header format`,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Invalid or expired token"`,
		},
		{
			name:           "valid token",
			authHeader:     "Bearer token-alice",
			expectedStatus: http.StatusOK,
			expectedBody:   `"conversations"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := s.app.Test(req, -1)
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Contains(t, string(body), tt.expectedBody)
		})
	}
}

func TestCreateConversation(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/conversations", "bob", `{"participant_id":"alice"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	var created ConversationResponse
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.Equal(t, []string{"alice", "bob"}, created.Participants)

	// Same pair, other caller and argument order: same conversation, 200.
	resp, body = s.do(t, http.MethodPost, "/api/v1/conversations", "alice", `{"participant_id":"bob"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var again ConversationResponse
	require.NoError(t, json.Unmarshal([]byte(body), &again))
	assert.Equal(t, created.ID, again.ID)

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "explicit pair with caller", user: "alice", body: `{"participant_a":"bob","participant_b":"alice"}`, wantStatus: http.StatusOK},
		{name: "explicit pair without caller", user: "carol", body: `{"participant_a":"bob","participant_b":"alice"}`, wantStatus: http.StatusForbidden},
		{name: "self conversation", user: "alice", body: `{"participant_id":"alice"}`, wantStatus: http.StatusBadRequest, wantBody: "participants must be distinct"},
		{name: "missing participant", user: "alice", body: `{}`, wantStatus: http.StatusBadRequest, wantBody: "participant_id is required"},
		{name: "half a pair", user: "alice", body: `{"participant_a":"alice"}`, wantStatus: http.StatusBadRequest, wantBody: "participant_b is required"},
		{name: "malformed body", user: "alice", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/api/v1/conversations", tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
			if tt.wantBody != "" {
				assert.Contains(t, body, tt.wantBody)
			}
		})
	}
}

func TestGetMessages(t *testing.T) {
	s := newTestServer(t)
	convID := s.conversation(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		_, err := s.chat.AppendMessage(context.Background(), convID, "alice", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	tests := []struct {
		name       string
		user       string
		convID     string
		wantStatus int
		wantCount  int
	}{
		{name: "participant", user: "bob", convID: convID, wantStatus: http.StatusOK, wantCount: 3},
		{name: "non participant", user: "carol", convID: convID, wantStatus: http.StatusForbidden},
		{name: "unknown conversation", user: "alice", convID: "missing", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodGet, "/api/v1/conversations/"+tt.convID+"/messages", tt.user, "")
			require.Equal(t, tt.wantStatus, resp.StatusCode, body)

			if tt.wantStatus != http.StatusOK {
				assert.NotContains(t, body, "message 0", "message data leaked on error")
				return
			}
			var history HistoryResponse
			require.NoError(t, json.Unmarshal([]byte(body), &history))
			require.Len(t, history.Messages, tt.wantCount)
			assert.Equal(t, "message 0", history.Messages[0].Content)
			assert.Equal(t, "message 2", history.Messages[2].Content)
		})
	}
}

func TestGetMessagesQuery(t *testing.T) {
	s := newTestServer(t)
	convID := s.conversation(t, "alice", "bob")
	for i := 0; i < 3; i++ {
		_, err := s.chat.AppendMessage(context.Background(), convID, "alice", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	path := "/api/v1/conversations/" + convID + "/messages"

	tests := []struct {
		name         string
		user         string
		query        string
		wantStatus   int
		wantContents []string
		wantBody     string
	}{
		{name: "newest first", user: "bob", query: "?order=desc&limit=2", wantStatus: http.StatusOK, wantContents: []string{"message 2", "message 1"}},
		{name: "limit keeps the latest", user: "bob", query: "?limit=1", wantStatus: http.StatusOK, wantContents: []string{"message 2"}},
		{name: "oversized limit clamps", user: "alice", query: "?limit=1000", wantStatus: http.StatusOK, wantContents: []string{"message 0", "message 1", "message 2"}},
		{name: "negative limit", user: "bob", query: "?limit=-1", wantStatus: http.StatusBadRequest, wantBody: "limit is invalid"},
		{name: "unknown order", user: "bob", query: "?order=sideways", wantStatus: http.StatusBadRequest, wantBody: "order is invalid"},
		{name: "non participant", user: "carol", query: "?limit=1", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodGet, path+tt.query, tt.user, "")
			require.Equal(t, tt.wantStatus, resp.StatusCode, body)
			if tt.wantBody != "" {
				assert.Contains(t, body, tt.wantBody)
			}
			if tt.wantStatus != http.StatusOK {
				assert.NotContains(t, body, "message 0")
				return
			}

			var history HistoryResponse
			require.NoError(t, json.Unmarshal([]byte(body), &history))
			got := lo.Map(history.Messages, func(m MessageResponse, _ int) string { return m.Content })
			assert.Equal(t, tt.wantContents, got)
		})
	}
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t)
	convID := s.conversation(t, "alice", "bob")
	path := "/api/v1/conversations/" + convID + "/messages"

	resp, body := s.do(t, http.MethodPost, path, "alice", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var msg MessageResponse
	require.NoError(t, json.Unmarshal([]byte(body), &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)

	tests := []struct {
		name       string
		user       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "empty content", user: "alice", path: path, body: `{"content":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "too long", user: "alice", path: path, body: `{"content":"` + strings.Repeat("x", 4097) + `"}`, wantStatus: http.StatusBadRequest},
		{name: "non participant", user: "carol", path: path, body: `{"content":"hi"}`, wantStatus: http.StatusForbidden},
		{name: "unknown conversation", user: "alice", path: "/api/v1/conversations/missing/messages", body: `{"content":"hi"}`, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
		})
	}

	// The limit counts bytes, as storage does.
	resp, body = s.do(t, http.MethodPost, path, "alice", `{"content":"`+strings.Repeat("€", 1366)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "content exceeds 4096 bytes")

	s.chat.appendErr = fmt.Errorf("%w: disk full", chat.ErrPersistence)
	resp, body = s.do(t, http.MethodPost, path, "alice", `{"content":"lost"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "message could not be stored, please retry")
	assert.NotContains(t, body, "disk full")
}

func TestListConversations(t *testing.T) {
	s := newTestServer(t)
	older := s.conversation(t, "alice", "bob")
	time.Sleep(2 * time.Millisecond)
	newer := s.conversation(t, "alice", "carol")
	s.conversation(t, "bob", "carol")

	s.activity.getInboxFunc = func(_ context.Context, userID string) ([]activity.InboxEntry, error) {
		return []activity.InboxEntry{{
			ConversationID: older,
			PeerID:         "bob",
			MessageCount:   4,
			LastSenderID:   "bob",
			LastPreview:    "see you",
			LastMessageAt:  time.Now().Add(time.Hour),
		}}, nil
	}

	resp, body := s.do(t, http.MethodGet, "/api/v1/conversations", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var inbox InboxResponse
	require.NoError(t, json.Unmarshal([]byte(body), &inbox))
	require.Equal(t, 2, inbox.Total)
	assert.Equal(t, older, inbox.Conversations[0].ID, "recent activity sorts first")
	assert.Equal(t, "see you", inbox.Conversations[0].LastPreview)
	assert.Equal(t, int64(4), inbox.Conversations[0].MessageCount)
	assert.Equal(t, newer, inbox.Conversations[1].ID)
	assert.Equal(t, "carol", inbox.Conversations[1].PeerID)

	// The directory still answers when the inbox is unavailable.
	s.activity.getInboxFunc = func(context.Context, string) ([]activity.InboxEntry, error) {
		return nil, errors.New("nats: timeout")
	}
	resp, body = s.do(t, http.MethodGet, "/api/v1/conversations", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NoError(t, json.Unmarshal([]byte(body), &inbox))
	assert.Equal(t, 2, inbox.Total)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)
}

func TestWebSocketRequiresUpgradeAndToken(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/ws?token=token-alice", "", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.ErrEmptyContent, http.StatusBadRequest},
		{chat.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("lookup: %w", chat.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: io", chat.ErrPersistence), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRequestLimiter(t *testing.T) {
	s := newTestServer(t)
	handlers := NewHandlers(s.chat, s.activity, s.channel, func() string { return "conn" }, &mockLogger{})
	s.app = newApp(handlers, tokenAuth(), Config{RequestLimit: 2, RequestWindow: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		resp, body := s.do(t, http.MethodGet, "/api/v1/conversations", "alice", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}

	resp, body := s.do(t, http.MethodGet, "/api/v1/conversations", "alice", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, `"rate_limited"`)

	// Counters are per user.
	resp, _ = s.do(t, http.MethodGet, "/api/v1/conversations", "bob", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
