package api

import (
	"cmp"
	"context"
	"slices"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/example/marketplace-chat/protocol"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// RoomChannel is the part of the room channel the boundary drives.
type RoomChannel interface {
	Register(ctx context.Context, conn *room.Connection) error
	Disconnect(ctx context.Context, connectionID string) error
	Join(ctx context.Context, connectionID, conversationID string) error
	Leave(ctx context.Context, connectionID, conversationID string) error
	Publish(ctx context.Context, req room.PublishRequest) (domain.Message, error)
	SendTo(ctx context.Context, connectionID string, frame any) error
	ConnectionCount() int
}

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	chat     chat.ChatPort
	activity activity.ActivityPort
	rooms    RoomChannel
	newID    func() string
	logger   types.Logger
}

// NewHandlers creates a new Handlers instance. newID generates connection ids.
func NewHandlers(
	chatPort chat.ChatPort,
	activityPort activity.ActivityPort,
	rooms RoomChannel,
	newID func() string,
	logger types.Logger,
) *Handlers {
	return &Handlers{
		chat:     chatPort,
		activity: activityPort,
		rooms:    rooms,
		newID:    newID,
		logger:   logger,
	}
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"service":     "marketplace-chat",
		"connections": h.rooms.ConnectionCount(),
	})
}

// CreateConversation handles POST /api/v1/conversations.
func (h *Handlers) CreateConversation(c *fiber.Ctx) error {
	caller := userID(c.Locals(UserContextKey))

	var req CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := protocol.ValidateStruct(req); err != nil {
		return badRequest(c, err.Error())
	}

	a, b := caller, req.ParticipantID
	if req.ParticipantA != "" {
		if caller != req.ParticipantA && caller != req.ParticipantB {
			return writeError(c, chat.ErrForbidden)
		}
		a, b = req.ParticipantA, req.ParticipantB
	}

	conv, err := h.chat.GetOrCreateConversation(c.UserContext(), a, b)
	if err != nil {
		return writeError(c, err)
	}

	status := fiber.StatusOK
	if conv.Created {
		status = fiber.StatusCreated
		h.logger.Info("Conversation created", "conversation_id", conv.ID, "by", caller)
	}
	return c.Status(status).JSON(toConversationResponse(conv))
}

// ListConversations handles GET /api/v1/conversations. Conversations come
// from the directory; the activity inbox adds previews and counts when it
// has them.
func (h *Handlers) ListConversations(c *fiber.Ctx) error {
	caller := userID(c.Locals(UserContextKey))

	convs, err := h.chat.ListConversations(c.UserContext(), caller)
	if err != nil {
		return writeError(c, err)
	}

	var entries map[string]activity.InboxEntry
	inbox, err := h.activity.GetInbox(c.UserContext(), caller)
	if err != nil {
		h.logger.Warn("Inbox unavailable, listing without activity", "user_id", caller, "error", err)
	} else {
		entries = lo.KeyBy(inbox, func(e activity.InboxEntry) string { return e.ConversationID })
	}

	items := lo.Map(convs, func(conv chat.ConversationResponse, _ int) InboxItem {
		var entry *activity.InboxEntry
		if e, ok := entries[conv.ID]; ok {
			entry = &e
		}
		return toInboxItem(caller, conv, entry)
	})
	slices.SortStableFunc(items, func(x, y InboxItem) int {
		return cmp.Compare(lastActivity(y).UnixNano(), lastActivity(x).UnixNano())
	})

	return c.JSON(InboxResponse{Conversations: items, Total: len(items)})
}

func lastActivity(item InboxItem) time.Time {
	if item.LastMessageAt.IsZero() {
		return item.CreatedAt
	}
	return item.LastMessageAt
}

// GetMessages handles GET /api/v1/conversations/:id/messages. The optional
// limit and order query parameters narrow the listing.
func (h *Handlers) GetMessages(c *fiber.Ctx) error {
	caller := userID(c.Locals(UserContextKey))
	conversationID := c.Params("id")

	var query HistoryQuery
	if err := c.QueryParser(&query); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := protocol.ValidateStruct(query); err != nil {
		return badRequest(c, err.Error())
	}

	var msgs []domain.Message
	var err error
	if query == (HistoryQuery{}) {
		msgs, err = h.chat.GetHistory(c.UserContext(), conversationID, caller)
	} else {
		msgs, err = h.listMessages(c.UserContext(), conversationID, caller, query)
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(HistoryResponse{
		ConversationID: conversationID,
		Messages:       lo.Map(msgs, func(m domain.Message, _ int) MessageResponse { return toMessageResponse(m) }),
		Total:          len(msgs),
	})
}

// listMessages serves a narrowed listing to a participant.
func (h *Handlers) listMessages(ctx context.Context, conversationID, caller string, query HistoryQuery) ([]domain.Message, error) {
	conv, err := h.chat.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller) {
		return nil, chat.ErrForbidden
	}
	return h.chat.ListMessages(ctx, conversationID, query.Limit, chat.ParseOrder(query.Order))
}

// SendMessage handles POST /api/v1/conversations/:id/messages. The message is
// published through the room channel, so joined connections receive it.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	caller := userID(c.Locals(UserContextKey))

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := protocol.ValidateStruct(req); err != nil {
		return badRequest(c, err.Error())
	}

	msg, err := h.rooms.Publish(c.UserContext(), room.PublishRequest{
		ConversationID: c.Params("id"),
		SenderID:       caller,
		Content:        req.Content,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toMessageResponse(msg))
}
