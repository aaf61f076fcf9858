package room

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/example/marketplace-chat/keylock"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/protocol"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/samber/lo"
)

var (
	// ErrChannelClosed is returned by operations on a stopped channel.
	ErrChannelClosed = errors.New("room channel closed")
	// ErrUnknownConnection is returned for a connection id that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrRateLimited is returned when the sender exceeded the publish rate.
	ErrRateLimited = errors.New("rate limit exceeded, please slow down")
)

const (
	defaultPublishTimeout = 5 * time.Second
	opsBuffer             = 256
)

// Appender persists a message before it is delivered.
type Appender interface {
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (domain.Message, error)
}

// Limiter decides whether a sender may publish right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Options configures a Channel.
type Options struct {
	// Limiter is optional; publishes are unlimited without one.
	Limiter        Limiter
	PublishTimeout time.Duration
	// WriteTimeout bounds each frame write; a connection that misses it is
	// dropped so it cannot stall the other members.
	WriteTimeout time.Duration
}

// PublishRequest is a message sent by a connection.
type PublishRequest struct {
	ConnectionID   string
	ConversationID string
	SenderID       string
	Content        string
}

// Channel fans persisted messages out to the connections joined to a
// conversation's room.
//
// Membership state is owned by the run loop: every mutation and query is a
// closure executed there, in submission order. Publishes to one conversation
// are serialized from persistence to delivery enqueue, so delivery order
// matches storage order.
type Channel struct {
	appender       Appender
	limiter        Limiter
	locks          *keylock.Map
	logger         types.Logger
	publishTimeout time.Duration
	writeTimeout   time.Duration

	// Loop-owned state.
	conns       map[string]*Connection
	memberships map[string]map[string]struct{} // connection id -> conversation ids
	rooms       map[string]map[string]struct{} // conversation id -> connection ids

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewChannel creates a Channel. Call Start before use and Close on shutdown.
func NewChannel(appender Appender, logger types.Logger, opts Options) *Channel {
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Channel{
		appender:       appender,
		limiter:        opts.Limiter,
		locks:          keylock.New(),
		logger:         logger,
		publishTimeout: timeout,
		writeTimeout:   writeTimeout,
		conns:          make(map[string]*Connection),
		memberships:    make(map[string]map[string]struct{}),
		rooms:          make(map[string]map[string]struct{}),
		ops:            make(chan func(), opsBuffer),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

// Start launches the run loop.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Close stops the run loop and clears all membership. Connections still
// registered are closed without being notified.
func (c *Channel) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.startOnce.Do(func() {
		// Never started: tear down inline.
		c.teardown()
		close(c.stopped)
	})
	<-c.stopped
}

func (c *Channel) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.teardown()
			return
		case op := <-c.ops:
			op()
		}
	}
}

func (c *Channel) teardown() {
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	count := len(c.conns)
	c.conns = make(map[string]*Connection)
	c.memberships = make(map[string]map[string]struct{})
	c.rooms = make(map[string]map[string]struct{})
	c.logger.Info("Room channel stopped", "connections", count)
}

// enqueue submits an op without waiting for it to run.
func (c *Channel) enqueue(ctx context.Context, op func()) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.ops <- op:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec submits an op and waits until the loop has run it.
func (c *Channel) exec(ctx context.Context, op func()) error {
	finished := make(chan struct{})
	if err := c.enqueue(ctx, func() {
		op()
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-c.stopped:
		select {
		case <-finished:
			return nil
		default:
			return ErrChannelClosed
		}
	}
}

// Register attaches a connection to the channel.
func (c *Channel) Register(ctx context.Context, conn *Connection) error {
	conn.setWriteTimeout(c.writeTimeout)
	return c.exec(ctx, func() {
		c.conns[conn.ID] = conn
		c.logger.Debug("Connection registered", "connection_id", conn.ID, "user_id", conn.UserID)
	})
}

// Disconnect detaches a connection and leaves every room it joined. It has
// no message side effects.
func (c *Channel) Disconnect(ctx context.Context, connectionID string) error {
	return c.exec(ctx, func() {
		if conn, ok := c.detach(connectionID); ok {
			c.logger.Debug("Connection disconnected", "connection_id", connectionID, "user_id", conn.UserID)
		}
	})
}

// detach drops a connection from the loop state. Loop only.
func (c *Channel) detach(connectionID string) (*Connection, bool) {
	conn, ok := c.conns[connectionID]
	if !ok {
		return nil, false
	}
	for conversationID := range c.memberships[connectionID] {
		c.removeFromRoom(conversationID, connectionID)
	}
	delete(c.memberships, connectionID)
	delete(c.conns, connectionID)
	return conn, true
}

// send writes a frame to a registered connection. A connection whose write
// fails is closed and detached, which also ends its read loop. Loop only.
func (c *Channel) send(conn *Connection, frame any) error {
	err := conn.Send(frame)
	if err == nil {
		return nil
	}
	c.detach(conn.ID)
	_ = conn.Close()
	c.logger.Warn("Dropped connection after failed write",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"error", err)
	return err
}

// Join adds a conversation to the connection's memberships. Joining twice
// has no further effect. Callers must check that the connection's user is a
// participant first.
func (c *Channel) Join(ctx context.Context, connectionID, conversationID string) error {
	var err error
	if execErr := c.exec(ctx, func() {
		if _, ok := c.conns[connectionID]; !ok {
			err = ErrUnknownConnection
			return
		}
		if c.memberships[connectionID] == nil {
			c.memberships[connectionID] = make(map[string]struct{})
		}
		c.memberships[connectionID][conversationID] = struct{}{}
		if c.rooms[conversationID] == nil {
			c.rooms[conversationID] = make(map[string]struct{})
		}
		c.rooms[conversationID][connectionID] = struct{}{}
	}); execErr != nil {
		return execErr
	}
	return err
}

// Leave removes a conversation from the connection's memberships. Leaving a
// room that was never joined is a no-op.
func (c *Channel) Leave(ctx context.Context, connectionID, conversationID string) error {
	return c.exec(ctx, func() {
		if rooms, ok := c.memberships[connectionID]; ok {
			delete(rooms, conversationID)
			if len(rooms) == 0 {
				delete(c.memberships, connectionID)
			}
		}
		c.removeFromRoom(conversationID, connectionID)
	})
}

func (c *Channel) removeFromRoom(conversationID, connectionID string) {
	members, ok := c.rooms[conversationID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(c.rooms, conversationID)
	}
}

// Publish persists a message and delivers it to every connection joined to
// the conversation, the sender's own connections included. Any failure is
// reported to the originating connection only, and nothing is delivered.
func (c *Channel) Publish(ctx context.Context, req PublishRequest) (domain.Message, error) {
	select {
	case <-c.done:
		return domain.Message{}, ErrChannelClosed
	default:
	}

	if err := chat.ValidateContent(req.Content); err != nil {
		c.notify(req.ConnectionID, chat.Reason(err), req.ConversationID)
		return domain.Message{}, err
	}

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, req.SenderID)
		switch {
		case err != nil:
			c.logger.Warn("Rate limiter unavailable, allowing publish", "sender_id", req.SenderID, "error", err)
		case !allowed:
			c.notify(req.ConnectionID, ErrRateLimited.Error(), req.ConversationID)
			return domain.Message{}, ErrRateLimited
		}
	}

	unlock := c.locks.Lock(req.ConversationID)
	defer unlock()

	// An accepted publish runs to completion even if the caller goes away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	defer cancel()

	msg, err := c.appender.AppendMessage(persistCtx, req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		c.logger.Warn("Publish rejected",
			"conversation_id", req.ConversationID,
			"sender_id", req.SenderID,
			"error", err)
		c.notify(req.ConnectionID, chat.Reason(err), req.ConversationID)
		return domain.Message{}, err
	}

	frame := protocol.NewMessage(msg)
	if err := c.enqueue(persistCtx, func() { c.deliver(msg.ConversationID, frame) }); err != nil {
		return msg, err
	}
	return msg, nil
}

func (c *Channel) deliver(conversationID string, frame protocol.MessageFrame) {
	for connectionID := range c.rooms[conversationID] {
		conn, ok := c.conns[connectionID]
		if !ok {
			continue
		}
		if err := c.send(conn, frame); err != nil {
			c.logger.Debug("Message not delivered", "connection_id", connectionID, "message_id", frame.ID)
		}
	}
}

// notify sends a connection-scoped error frame. It goes through the loop so it
// is ordered with deliveries to the same connection.
func (c *Channel) notify(connectionID, message, conversationID string) {
	frame := protocol.NewError(message, conversationID)
	err := c.enqueue(context.Background(), func() {
		conn, ok := c.conns[connectionID]
		if !ok {
			return
		}
		_ = c.send(conn, frame)
	})
	if err != nil {
		c.logger.Debug("Dropped error frame", "connection_id", connectionID, "error", err)
	}
}

// SendTo writes a frame to one connection, ordered with its deliveries.
func (c *Channel) SendTo(ctx context.Context, connectionID string, frame any) error {
	var err error
	if execErr := c.exec(ctx, func() {
		conn, ok := c.conns[connectionID]
		if !ok {
			err = ErrUnknownConnection
			return
		}
		err = c.send(conn, frame)
	}); execErr != nil {
		return execErr
	}
	return err
}

// ConnectionCount returns the number of registered connections.
func (c *Channel) ConnectionCount() int {
	var n int
	_ = c.exec(context.Background(), func() { n = len(c.conns) })
	return n
}

// RoomSize returns the number of connections joined to a conversation.
func (c *Channel) RoomSize(conversationID string) int {
	var n int
	_ = c.exec(context.Background(), func() { n = len(c.rooms[conversationID]) })
	return n
}

// Rooms returns the conversations a connection has joined, sorted.
func (c *Channel) Rooms(connectionID string) []string {
	var ids []string
	_ = c.exec(context.Background(), func() {
		ids = lo.Keys(c.memberships[connectionID])
	})
	slices.Sort(ids)
	return ids
}
