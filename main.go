package main

import (
	"context"
	"log"
	"os"

	"github.com/example/marketplace-chat/config"
	"github.com/example/marketplace-chat/modules/activity"
	"github.com/example/marketplace-chat/modules/api"
	"github.com/example/marketplace-chat/modules/auth"
	"github.com/example/marketplace-chat/modules/chat"
	"github.com/example/marketplace-chat/modules/ratelimit"
	"github.com/example/marketplace-chat/modules/room"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

func main() {
	log.Println("=== Marketplace Chat ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logLevel := byLevel(cfg.Level(), mono.LogLevelDebug, mono.LogLevelInfo, mono.LogLevelWarn, mono.LogLevelError)
	logFormat := mono.LogFormatText
	if cfg.JSONLogs() {
		logFormat = mono.LogFormatJSON
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(logLevel),
		mono.WithLogFormat(logFormat),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	roomModule := room.NewModule(cfg.PublishTimeout, cfg.WriteTimeout, cfg.RateLimited(), logger.WithModule("room"))

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - auth: token validation service
	// - chat: conversation directory, message store and history (SQLite)
	// - activity: inbox read model fed by chat events
	// - ratelimit: Redis sliding window, only when REDIS_ADDR is set
	// - room: room channel fan-out, depends on chat (and ratelimit)
	// - api: Fiber REST + WebSocket boundary
	app.Register(auth.NewModule(auth.JWTConfig{
		SecretKey: cfg.JWTSecretKey,
		Issuer:    cfg.JWTIssuer,
	}, logger.WithModule("auth")))
	app.Register(chat.NewModule(cfg.ChatDBPath, logger.WithModule("chat")))
	app.Register(activity.NewModule(logger.WithModule("activity")))
	if cfg.RateLimited() {
		app.Register(ratelimit.NewModule(cfg.RedisAddr, cfg.RedisPassword, ratelimit.Config{
			MessagesPerWindow: cfg.PublishRateLimit,
			WindowSize:        cfg.PublishRateWindow,
			KeyPrefix:         ratelimit.DefaultConfig().KeyPrefix,
		}, logger.WithModule("ratelimit")))
	}
	app.Register(roomModule)
	app.Register(api.NewModule(api.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestLimit:   cfg.APIRateLimit,
		RequestWindow:  cfg.APIRateWindow,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
	}, roomModule, logger.WithModule("api")))

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// byLevel picks the value matching a validated LOG_LEVEL name.
func byLevel[T any](level string, debug, info, warn, errorLevel T) T {
	switch level {
	case "debug":
		return debug
	case "warn":
		return warn
	case "error":
		return errorLevel
	default:
		return info
	}
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  - HTTP address: %s", cfg.HTTPAddr)
	log.Printf("  - Chat database: %s", cfg.ChatDBPath)
	if cfg.RateLimited() {
		log.Printf("  - Publish rate limit: %d per %s (Redis %s)", cfg.PublishRateLimit, cfg.PublishRateWindow, cfg.RedisAddr)
	} else {
		log.Println("  - Publish rate limit: disabled (REDIS_ADDR not set)")
	}
	if cfg.APIRateLimit > 0 {
		log.Printf("  - REST rate limit: %d per %s per user", cfg.APIRateLimit, cfg.APIRateWindow)
	}
	log.Println("")
	log.Println("REST API Endpoints (require Bearer token):")
	log.Println("  POST   /api/v1/conversations              - Open a conversation with a participant")
	log.Println("  GET    /api/v1/conversations              - List your conversations")
	log.Println("  GET    /api/v1/conversations/:id/messages - Conversation history")
	log.Println("  POST   /api/v1/conversations/:id/messages - Send a message")
	log.Println("  GET    /health                            - Health check")
	log.Println("")
	log.Println("WebSocket Endpoint: /ws?token=<access token>")
	log.Println("  Client frames: join, leave, publish")
	log.Println("  Server frames: connected, joined, left, message, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
