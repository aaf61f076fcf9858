// Package client is the consuming side of the chat push channel. A Session
// keeps one WebSocket connection alive, re-joining its rooms after every
// reconnect; a View is one open conversation fed by history and live
// deliveries.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/marketplace-chat/protocol"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotConnected is returned when a frame cannot be written because the
	// connection is being re-established.
	ErrNotConnected = errors.New("not connected")
)

const (
	defaultMinBackoff   = 250 * time.Millisecond
	defaultMaxBackoff   = 5 * time.Second
	defaultErrorDisplay = 5 * time.Second
	handshakeTimeout    = 10 * time.Second
	errorBuffer         = 16
)

// Options configures a Session.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:3000/ws.
	URL string
	// BaseURL is the REST root used for history, e.g. http://localhost:3000.
	BaseURL string
	// Token is the access token sent with every request.
	Token string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     types.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ErrorDisplay is how long LastError keeps reporting an error event.
	ErrorDisplay time.Duration
}

func (o *Options) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = defaultMinBackoff
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(defaultMaxBackoff, o.MinBackoff)
	}
	if o.ErrorDisplay <= 0 {
		o.ErrorDisplay = defaultErrorDisplay
	}
}

// joinResult answers a pending join.
type joinResult struct {
	err error
}

// Session is a reconnecting chat connection.
type Session struct {
	opts   Options
	logger types.Logger
	now    func() time.Time

	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	connectionID string
	userID       string
	rooms        map[string]map[*View]struct{}
	pending      map[string][]chan joinResult
	lastErr      *protocol.ErrorFrame
	lastErrAt    time.Time
	reconnects   int

	errs      chan protocol.ErrorFrame
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Dial connects and waits for the server greeting. The session reconnects on
// its own until Close is called.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts.setDefaults()
	if opts.URL == "" {
		return nil, fmt.Errorf("client: URL is required")
	}

	s := &Session{
		opts:    opts,
		logger:  opts.Logger,
		now:     time.Now,
		rooms:   make(map[string]map[*View]struct{}),
		pending: make(map[string][]chan joinResult),
		errs:    make(chan protocol.ErrorFrame, errorBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

// connect dials and consumes the connected frame.
func (s *Session) connect(ctx context.Context) error {
	endpoint, err := url.Parse(s.opts.URL)
	if err != nil {
		return fmt.Errorf("client: invalid URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("token", s.opts.Token)
	endpoint.RawQuery = query.Encode()

	conn, _, err := s.opts.Dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("client: dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("client: handshake failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := protocol.DecodeServer(data)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("client: handshake failed: %w", err)
	}
	connected, ok := frame.(protocol.ConnectedFrame)
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("client: expected %s frame, got %s", protocol.TypeConnected, frame.FrameType())
	}

	s.mu.Lock()
	s.conn = conn
	s.connectionID = connected.ConnectionID
	s.userID = connected.UserID
	s.mu.Unlock()

	s.logger.Debug("Connected", "connection_id", connected.ConnectionID, "user_id", connected.UserID)
	return nil
}

func (s *Session) run() {
	defer func() {
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		close(s.stopped)
	}()
	for {
		s.readLoop()

		select {
		case <-s.done:
			return
		default:
		}
		if !s.reconnect() {
			return
		}
	}
}

func (s *Session) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("Connection lost", "error", err)
			}
			s.dropConnection(conn)
			return
		}

		frame, err := protocol.DecodeServer(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		s.dispatch(frame)
	}
}

// dropConnection forgets a dead connection and fails pending joins, which
// are retried by the rejoin after reconnect.
func (s *Session) dropConnection(conn *websocket.Conn) {
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	pending := s.pending
	s.pending = make(map[string][]chan joinResult)
	s.mu.Unlock()

	for _, waiters := range pending {
		for _, w := range waiters {
			w <- joinResult{err: ErrNotConnected}
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or the session
// is closed, then re-joins every room that has an open view.
func (s *Session) reconnect() bool {
	backoff := s.opts.MinBackoff
	for {
		select {
		case <-s.done:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			break
		}
		s.logger.Debug("Reconnect failed", "backoff", backoff, "error", err)
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}

	s.mu.Lock()
	s.reconnects++
	rooms := lo.MapValues(s.rooms, func(set map[*View]struct{}, _ string) []*View {
		return lo.Keys(set)
	})
	s.mu.Unlock()

	// Acks arrive through the read loop, so the rejoin cannot block it.
	go s.rejoin(rooms)

	s.logger.Info("Reconnected", "rooms", len(rooms))
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// rejoin joins every room again and, once a room's join is acknowledged,
// refreshes its views. Messages sent while disconnected are only reachable
// through history.
func (s *Session) rejoin(rooms map[string][]*View) {
	var g errgroup.Group
	for conversationID, views := range rooms {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
			defer cancel()

			wait, err := s.sendJoin(conversationID)
			if err == nil {
				err = s.awaitJoin(ctx, conversationID, wait)
			}
			if err != nil {
				s.logger.Warn("Rejoin failed", "conversation_id", conversationID, "error", err)
				return err
			}
			for _, v := range views {
				if err := v.refresh(ctx); err != nil {
					s.logger.Warn("History refresh failed", "conversation_id", conversationID, "error", err)
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Debug("Rejoin incomplete", "error", err)
	}
}

func (s *Session) dispatch(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.MessageFrame:
		msg := f.ToMessage()
		s.mu.Lock()
		views := lo.Keys(s.rooms[msg.ConversationID])
		s.mu.Unlock()
		for _, v := range views {
			v.add(msg)
		}
	case protocol.JoinedFrame:
		s.resolveJoin(f.ConversationID, nil)
	case protocol.ErrorFrame:
		if f.ConversationID != "" && s.resolveJoin(f.ConversationID, errors.New(f.Message)) {
			return
		}
		s.recordError(f)
	case protocol.ConnectedFrame, protocol.LeftFrame:
	}
}

// resolveJoin answers the oldest pending join of a conversation. It reports
// whether one was waiting.
func (s *Session) resolveJoin(conversationID string, err error) bool {
	s.mu.Lock()
	waiters := s.pending[conversationID]
	if len(waiters) == 0 {
		s.mu.Unlock()
		return false
	}
	w := waiters[0]
	if len(waiters) == 1 {
		delete(s.pending, conversationID)
	} else {
		s.pending[conversationID] = waiters[1:]
	}
	s.mu.Unlock()

	w <- joinResult{err: err}
	return true
}

func (s *Session) recordError(f protocol.ErrorFrame) {
	s.mu.Lock()
	s.lastErr = &f
	s.lastErrAt = s.now()
	s.mu.Unlock()

	select {
	case s.errs <- f:
	default:
		s.logger.Debug("Error event dropped, channel full", "message", f.Message)
	}
}

// Errors delivers the server's connection-scoped error events.
func (s *Session) Errors() <-chan protocol.ErrorFrame {
	return s.errs
}

// LastError returns the most recent error event while it is still within the
// display window.
func (s *Session) LastError() (protocol.ErrorFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastErr == nil || s.now().Sub(s.lastErrAt) >= s.opts.ErrorDisplay {
		return protocol.ErrorFrame{}, false
	}
	return *s.lastErr, true
}

// ConnectionID returns the server-assigned id of the current connection.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// UserID returns the authenticated identity of the session.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Rooms returns the conversations the session is joined to.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.rooms)
}

func (s *Session) write(frame any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// sendJoin registers a waiter for the server's answer and sends the join.
func (s *Session) sendJoin(conversationID string) (chan joinResult, error) {
	wait := make(chan joinResult, 1)
	s.mu.Lock()
	s.pending[conversationID] = append(s.pending[conversationID], wait)
	s.mu.Unlock()

	if err := s.write(protocol.NewJoin(conversationID)); err != nil {
		s.cancelJoin(conversationID, wait)
		return nil, err
	}
	return wait, nil
}

func (s *Session) awaitJoin(ctx context.Context, conversationID string, wait chan joinResult) error {
	select {
	case res := <-wait:
		return res.err
	case <-ctx.Done():
		s.cancelJoin(conversationID, wait)
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) cancelJoin(conversationID string, wait chan joinResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiters := lo.Without(s.pending[conversationID], wait)
	if len(waiters) == 0 {
		delete(s.pending, conversationID)
		return
	}
	s.pending[conversationID] = waiters
}

// Publish sends a message to a conversation. The message comes back as a
// delivery once it is stored; rejections arrive on Errors.
func (s *Session) Publish(conversationID, content string) error {
	return s.write(protocol.NewPublish(conversationID, content))
}

// Close stops reconnecting and closes the connection. Open views stop
// receiving deliveries.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	<-s.stopped
	return nil
}

func (s *Session) historyURL(conversationID string) string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)             {}
func (nopLogger) Info(string, ...any)              {}
func (nopLogger) Warn(string, ...any)              {}
func (nopLogger) Error(string, ...any)             {}
func (l nopLogger) With(...any) types.Logger       { return l }
func (l nopLogger) WithError(error) types.Logger   { return l }
func (l nopLogger) WithModule(string) types.Logger { return l }
