package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/service"
)

// Server holds API dependencies.
type Server struct {
	authService   *service.AuthService
	relayService  *service.RelayService
	speechService *service.SpeechService
	limiter       *RateLimiter
	maxDuration   time.Duration
	logger        *logrus.Logger
}

// NewServer creates a new API server. A nil limiter disables rate limiting.
func NewServer(authService *service.AuthService, relayService *service.RelayService, speechService *service.SpeechService, limiter *RateLimiter, maxDuration time.Duration, logger *logrus.Logger) *Server {
	return &Server{
		authService:   authService,
		relayService:  relayService,
		speechService: speechService,
		limiter:       limiter,
		maxDuration:   maxDuration,
		logger:        logger,
	}
}

// RegisterRoutes mounts the user and relay routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	users := e.Group("/users")
	users.POST("/authenticateTerminal", s.AuthenticateTerminal)
	users.POST("/refreshToken", s.RefreshToken)
	users.GET("/getInfo", s.GetInfo, s.AuthMiddleware)

	api := e.Group("/api", s.AuthMiddleware)
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}
	api.POST("/chat", s.Chat)
	api.POST("/tts", s.TextToSpeech)
}
