package room

import (
	"context"
	"fmt"
	"time"

	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/ratelimit"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// RoomModule owns the process-wide room channel.
type RoomModule struct {
	channel        *Channel
	chatAdapter    chat.ChatPort
	limiter        Limiter
	rateLimited    bool
	publishTimeout time.Duration
	writeTimeout   time.Duration
	logger         types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*RoomModule)(nil)
	_ mono.DependentModule       = (*RoomModule)(nil)
	_ mono.HealthCheckableModule = (*RoomModule)(nil)
)

// NewModule creates a new RoomModule. When rateLimited is set, publishes are
// checked against the ratelimit module.
func NewModule(publishTimeout, writeTimeout time.Duration, rateLimited bool, logger types.Logger) *RoomModule {
	return &RoomModule{
		publishTimeout: publishTimeout,
		writeTimeout:   writeTimeout,
		rateLimited:    rateLimited,
		logger:         logger,
	}
}

// Name returns the module name.
func (m *RoomModule) Name() string {
	return "room"
}

// Dependencies returns the list of module dependencies.
func (m *RoomModule) Dependencies() []string {
	if m.rateLimited {
		return []string{"chat", "ratelimit"}
	}
	return []string{"chat"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *RoomModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "chat":
		m.chatAdapter = chat.NewChatAdapter(container)
	case "ratelimit":
		m.limiter = ratelimit.NewLimiterAdapter(container)
	}
}

// Start creates the channel and launches its run loop.
func (m *RoomModule) Start(_ context.Context) error {
	if m.chatAdapter == nil {
		return fmt.Errorf("chat dependency not set")
	}
	if m.rateLimited && m.limiter == nil {
		return fmt.Errorf("ratelimit dependency not set")
	}

	m.channel = NewChannel(m.chatAdapter, m.logger, Options{
		Limiter:        m.limiter,
		PublishTimeout: m.publishTimeout,
		WriteTimeout:   m.writeTimeout,
	})
	m.channel.Start()

	m.logger.Info("Room channel started", "rate_limited", m.rateLimited)
	return nil
}

// Stop tears the channel down.
func (m *RoomModule) Stop(_ context.Context) error {
	if m.channel != nil {
		m.channel.Close()
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status.
func (m *RoomModule) Health(_ context.Context) mono.HealthStatus {
	if m.channel == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections": m.channel.ConnectionCount(),
		},
	}
}

// Channel returns the room channel. It is nil until the module has started.
func (m *RoomModule) Channel() *Channel {
	return m.channel
}
