package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// AuthModule resolves access tokens to user identities. It never issues
// credentials to clients.
type AuthModule struct {
	jwt    *JWTManager
	config JWTConfig
	logger types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*AuthModule)(nil)
	_ mono.ServiceProviderModule = (*AuthModule)(nil)
	_ mono.HealthCheckableModule = (*AuthModule)(nil)
)

// NewModule creates a new AuthModule.
func NewModule(config JWTConfig, logger types.Logger) *AuthModule {
	return &AuthModule{
		jwt:    NewJWTManager(config),
		config: config,
		logger: logger,
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Start initializes the auth module.
func (m *AuthModule) Start(_ context.Context) error {
	if m.config.SecretKey == "" {
		return fmt.Errorf("jwt secret key is required")
	}
	m.logger.Info("Module started", "issuer", m.config.Issuer)
	return nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.config.SecretKey != "",
		Message: "operational",
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceValidateToken,
		json.Unmarshal,
		json.Marshal,
		m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceValidateToken, err)
	}

	m.logger.Info("Registered services", "services", []string{ServiceValidateToken})
	return nil
}

// handleValidateToken reports validation failures in the response body,
// not as service errors.
func (m *AuthModule) handleValidateToken(_ context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	claims, err := m.jwt.ValidateAccessToken(req.Token)
	if err != nil {
		errMsg := "invalid token"
		if errors.Is(err, ErrExpiredToken) {
			errMsg = "token expired"
		}
		m.logger.Debug("Token rejected", "reason", errMsg)
		return ValidateTokenResponse{Valid: false, Error: errMsg}, nil
	}

	return ValidateTokenResponse{
		Valid:  true,
		UserID: claims.UserID,
		Email:  claims.Email,
	}, nil
}
