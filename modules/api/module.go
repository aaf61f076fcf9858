package api

import (
	"context"
	"fmt"
	"time"

	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/auth"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	nanoid "github.com/jaevor/go-nanoid"
)

// Config configures the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins string

	// RequestLimit caps REST requests per user per RequestWindow. Zero
	// disables the limiter.
	RequestLimit  int
	RequestWindow time.Duration
	// RedisAddr and RedisPassword select a shared Redis store for the
	// limiter counters; counters stay in memory when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
}

// APIModule exposes the REST endpoints and the WebSocket endpoint with Fiber.
type APIModule struct {
	app             *fiber.App
	storage         fiber.Storage
	config          Config
	rooms           *room.RoomModule
	authAdapter     auth.AuthPort
	chatAdapter     chat.ChatPort
	activityAdapter activity.ActivityPort
	logger          types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*APIModule)(nil)
	_ mono.DependentModule       = (*APIModule)(nil)
	_ mono.HealthCheckableModule = (*APIModule)(nil)
)

// NewModule creates a new APIModule serving the given room module's channel.
func NewModule(config Config, rooms *room.RoomModule, logger types.Logger) *APIModule {
	return &APIModule{
		config: config,
		rooms:  rooms,
		logger: logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"auth", "chat", "activity", "room"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.authAdapter = auth.NewAuthAdapter(container)
	case "chat":
		m.chatAdapter = chat.NewChatAdapter(container)
	case "activity":
		m.activityAdapter = activity.NewActivityAdapter(container)
	}
}

// Start initializes and starts the HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.authAdapter == nil || m.chatAdapter == nil || m.activityAdapter == nil {
		return fmt.Errorf("api dependencies not set")
	}
	channel := m.rooms.Channel()
	if channel == nil {
		return fmt.Errorf("room channel not started")
	}

	newID, err := nanoid.Standard(21)
	if err != nil {
		return fmt.Errorf("failed to create connection id generator: %w", err)
	}

	if m.config.RequestLimit > 0 && m.config.RedisAddr != "" {
		storage, err := newRedisStorage(m.config.RedisAddr, m.config.RedisPassword)
		if err != nil {
			return err
		}
		m.storage = storage
	}

	handlers := NewHandlers(m.chatAdapter, m.activityAdapter, channel, newID, m.logger)
	m.app = newApp(handlers, m.authAdapter, m.config, m.storage)

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(m.config.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "addr", m.config.Addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	if m.storage != nil {
		if err := m.storage.Close(); err != nil {
			m.logger.Warn("Failed to close limiter storage", "error", err)
		}
	}
	return nil
}

// Health returns the health status of the module.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"addr": m.config.Addr,
		},
	}
}

// newApp builds the Fiber application with all routes. storage may be nil.
func newApp(h *Handlers, authAdapter auth.AuthPort, config Config, storage fiber.Storage) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Marketplace Chat",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	allowedOrigins := config.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	app.Get("/health", h.HealthCheck)

	app.Use("/ws", WebSocketAuthMiddleware(authAdapter))
	app.Get("/ws", websocket.New(h.HandleWebSocket))

	v1 := app.Group("/api/v1", AuthMiddleware(authAdapter))
	if config.RequestLimit > 0 {
		v1.Use(RequestLimiter(config.RequestLimit, config.RequestWindow, storage))
	}
	v1.Post("/conversations", h.CreateConversation)
	v1.Get("/conversations", h.ListConversations)
	v1.Get("/conversations/:id/messages", h.GetMessages)
	v1.Post("/conversations/:id/messages", h.SendMessage)

	return app
}
