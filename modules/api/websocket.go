package api

import (
	"context"

	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/example/marketplace-chat/protocol"
	"github.com/gofiber/contrib/websocket"
)

// HandleWebSocket serves one authenticated WebSocket connection.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	user := userID(c.Locals(UserContextKey))
	conn := room.NewConnection(h.newID(), user, c)
	ctx := context.Background()

	if err := h.rooms.Register(ctx, conn); err != nil {
		h.logger.Warn("Connection refused", "user_id", user, "error", err)
		_ = conn.Close()
		return
	}
	defer func() {
		if err := h.rooms.Disconnect(ctx, conn.ID); err != nil {
			h.logger.Debug("Disconnect after channel stop", "connection_id", conn.ID, "error", err)
		}
		_ = conn.Close()
	}()

	h.logger.Info("WebSocket connected", "connection_id", conn.ID, "user_id", user)
	h.send(ctx, conn.ID, protocol.NewConnected(conn.ID, user))

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket error", "connection_id", conn.ID, "error", err)
			}
			break
		}
		h.handleFrame(ctx, conn, data)
	}

	h.logger.Info("WebSocket disconnected", "connection_id", conn.ID, "user_id", user)
}

// handleFrame dispatches one client frame. Every rejection produces an error
// frame on this connection only; the connection stays open.
func (h *Handlers) handleFrame(ctx context.Context, conn *room.Connection, data []byte) {
	frame, err := protocol.DecodeClient(data)
	if err != nil {
		h.send(ctx, conn.ID, protocol.NewError(err.Error(), ""))
		return
	}

	switch f := frame.(type) {
	case protocol.JoinFrame:
		h.join(ctx, conn, f.ConversationID)
	case protocol.LeaveFrame:
		if err := h.rooms.Leave(ctx, conn.ID, f.ConversationID); err != nil {
			h.send(ctx, conn.ID, protocol.NewError(err.Error(), f.ConversationID))
			return
		}
		h.send(ctx, conn.ID, protocol.NewLeft(f.ConversationID))
	case protocol.PublishFrame:
		// Failures are reported to this connection by the channel.
		_, _ = h.rooms.Publish(ctx, room.PublishRequest{
			ConnectionID:   conn.ID,
			ConversationID: f.ConversationID,
			SenderID:       conn.UserID,
			Content:        f.Content,
		})
	}
}

// join admits the connection to a room only if its user is a participant.
func (h *Handlers) join(ctx context.Context, conn *room.Connection, conversationID string) {
	conv, err := h.chat.GetConversation(ctx, conversationID)
	if err != nil {
		h.send(ctx, conn.ID, protocol.NewError(chat.Reason(err), conversationID))
		return
	}
	if !conv.HasParticipant(conn.UserID) {
		h.logger.Warn("Join refused", "connection_id", conn.ID, "user_id", conn.UserID, "conversation_id", conversationID)
		h.send(ctx, conn.ID, protocol.NewError(chat.Reason(chat.ErrForbidden), conversationID))
		return
	}

	if err := h.rooms.Join(ctx, conn.ID, conversationID); err != nil {
		h.send(ctx, conn.ID, protocol.NewError(err.Error(), conversationID))
		return
	}
	h.send(ctx, conn.ID, protocol.NewJoined(conversationID))
}

func (h *Handlers) send(ctx context.Context, connectionID string, frame any) {
	if err := h.rooms.SendTo(ctx, connectionID, frame); err != nil {
		h.logger.Debug("Failed to send frame", "connection_id", connectionID, "error", err)
	}
}
