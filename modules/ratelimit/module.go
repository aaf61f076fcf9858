package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// ServiceCheckPublishRate is the request-reply service consulted before
// every publish.
const ServiceCheckPublishRate = "check-publish-rate"

// CheckRequest identifies the sender being limited.
type CheckRequest struct {
	Key string `json:"key"`
}

// RateLimitModule owns the Redis client and serves publish rate checks.
type RateLimitModule struct {
	client    *redis.Client
	limiter   *SlidingWindowLimiter
	redisAddr string
	password  string
	config    Config
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*RateLimitModule)(nil)
	_ mono.ServiceProviderModule = (*RateLimitModule)(nil)
	_ mono.HealthCheckableModule = (*RateLimitModule)(nil)
)

// NewModule creates a new rate limiting module.
func NewModule(redisAddr, password string, config Config, logger types.Logger) *RateLimitModule {
	return &RateLimitModule{
		redisAddr: redisAddr,
		password:  password,
		config:    config,
		logger:    logger,
	}
}

// Name returns the module name.
func (m *RateLimitModule) Name() string {
	return "ratelimit"
}

// Start connects to Redis.
func (m *RateLimitModule) Start(ctx context.Context) error {
	m.client = redis.NewClient(&redis.Options{
		Addr:     m.redisAddr,
		Password: m.password,
	})
	if err := m.client.Ping(ctx).Err(); err != nil {
		_ = m.client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m.limiter = NewSlidingWindowLimiter(m.client, m.config)
	m.logger.Info("Connected to Redis",
		"addr", m.redisAddr,
		"messages_per_window", m.config.MessagesPerWindow,
		"window", m.config.WindowSize.String())
	return nil
}

// Stop closes the Redis connection.
func (m *RateLimitModule) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Warn("Error closing Redis connection", "error", err)
		}
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health verifies the Redis connection.
func (m *RateLimitModule) Health(ctx context.Context) mono.HealthStatus {
	if m.client == nil {
		return mono.HealthStatus{Healthy: false, Message: "redis client not initialized"}
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return mono.HealthStatus{Healthy: false, Message: err.Error()}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"redis_addr": m.redisAddr},
	}
}

// RegisterServices registers the rate check service.
func (m *RateLimitModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceCheckPublishRate,
		json.Unmarshal,
		json.Marshal,
		m.handleCheck,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCheckPublishRate, err)
	}

	m.logger.Info("Registered services", "services", []string{ServiceCheckPublishRate})
	return nil
}

func (m *RateLimitModule) handleCheck(ctx context.Context, req CheckRequest, _ *mono.Msg) (Result, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return Result{}, fmt.Errorf("rate limit key is required")
	}
	if m.limiter == nil {
		return Result{}, fmt.Errorf("rate limiter not started")
	}
	return m.limiter.Allow(ctx, key)
}
