package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/ai/openai"
	"github.com/vultisig/chat-relay/internal/ai/vapi"
	"github.com/vultisig/chat-relay/internal/api"
	"github.com/vultisig/chat-relay/internal/cache/redis"
	"github.com/vultisig/chat-relay/internal/config"
	"github.com/vultisig/chat-relay/internal/events"
	"github.com/vultisig/chat-relay/internal/service"
	"github.com/vultisig/chat-relay/internal/storage/postgres"
	"github.com/vultisig/chat-relay/internal/types"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	// Configure log format and level
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(level)

	logger.Info("starting chat-relay server")

	// Connect to database
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis client
	redisClient, err := redis.New(cfg.Redis.URI)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	// Initialize usage event publisher
	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to rabbitmq")
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	// Initialize OpenAI client
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model,
		openai.WithMaxTokens(cfg.OpenAI.MaxTokens),
		openai.WithSystemPrompt(cfg.OpenAI.SystemPrompt),
	)
	completions := service.ProviderFunc(func(ctx context.Context, history []types.ChatMessage) (service.CompletionStream, error) {
		stream, err := openaiClient.StreamChat(ctx, history)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	// Initialize speech provider
	var speechProvider service.SpeechProvider = openaiClient
	if cfg.Speech.Provider == config.SpeechProviderVapi {
		speechProvider = vapi.NewClient(cfg.Speech.VapiAPIKey, cfg.Speech.VapiURL, cfg.Speech.Timeout)
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db.Pool())

	// Initialize services
	terminal := service.NewTerminalVerifier(cfg.Auth.TerminalSecret, cfg.Auth.TerminalMaxAge)
	authService := service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, redisClient, userRepo, terminal, logger)
	relayService := service.NewRelayService(completions, publisher, cfg.OpenAI.Model, cfg.Relay.MaxMessages, logger)
	speechService := service.NewSpeechService(speechProvider, redisClient, cfg.Speech.CacheTTL, cfg.Speech.Voice, cfg.Speech.Format, cfg.Speech.MaxChars, logger)

	// Per-user rate limiting for /api routes
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	stopCleanup := make(chan struct{})
	go limiter.Run(5*time.Minute, stopCleanup)
	defer close(stopCleanup)

	// Initialize API server
	server := api.NewServer(authService, relayService, speechService, limiter, cfg.Relay.MaxDuration, logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Add middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.Server.CORSOrigins,
		ExposeHeaders: []string{"X-Vercel-AI-Data-Stream", echo.HeaderXRequestID},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.Relay.MaxBodySize))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return nil
		},
	}))

	// Health check endpoint (public)
	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.WithError(err).Warn("database health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
		}
		if err := redisClient.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// User and relay routes
	server.RegisterRoutes(e)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}

	logger.Info("server stopped")
}
