package api

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/example/marketplace-chat/modules/auth"
	"github.com/example/marketplace-chat/modules/room"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
)

const (
	// UserContextKey is the key used to store user claims in the Fiber context.
	UserContextKey = "user"
)

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

// AuthMiddleware creates a middleware that validates JWT bearer tokens.
func AuthMiddleware(authAdapter auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Use: Bearer <token>")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return unauthorized(c, "Token is required")
		}

		claims, err := authAdapter.ValidateToken(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(UserContextKey, claims)
		return c.Next()
	}
}

// WebSocketAuthMiddleware only lets authenticated WebSocket upgrades through.
// Browsers cannot set headers on upgrades, so the token may come in the
// "token" query parameter.
func WebSocketAuthMiddleware(authAdapter auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return unauthorized(c, "Token is required")
		}

		claims, err := authAdapter.ValidateToken(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(UserContextKey, claims)
		return c.Next()
	}
}

// userID extracts the authenticated user id from the value stored under
// UserContextKey, or "" when there is none.
func userID(local any) string {
	claims, ok := local.(*auth.Claims)
	if !ok || claims == nil {
		return ""
	}
	return claims.UserID
}

// RequestLimiter throttles REST calls per authenticated user. It must run
// after AuthMiddleware. A nil storage keeps counters in process memory.
func RequestLimiter(maxRequests int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        maxRequests,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "api:" + userID(c.Locals(UserContextKey))
		},
		LimitReached: func(c *fiber.Ctx) error {
			return writeError(c, room.ErrRateLimited)
		},
	})
}

// newRedisStorage connects the limiter counters to Redis. The storage
// constructor panics when Redis is unreachable, so reachability is checked
// first.
func newRedisStorage(addr, password string) (fiber.Storage, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis port %q: %w", portStr, err)
	}

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("redis not reachable at %s: %w", addr, err)
	}
	_ = conn.Close()

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
	}), nil
}
