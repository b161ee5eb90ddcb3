package api

import (
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/clock"
	"github.com/vultisig/voice-chat/internal/service"
	"github.com/vultisig/voice-chat/internal/service/session"
	"github.com/vultisig/voice-chat/internal/stream"
)

// Server holds API dependencies.
type Server struct {
	authService *service.AuthService
	sessions    *session.Registry
	hub         *stream.Hub
	clock       clock.Clock
	maxAudio    int
	logger      *logrus.Logger
}

// NewServer creates a new API server. maxAudio caps the bytes buffered by a
// live recording.
func NewServer(authService *service.AuthService, sessions *session.Registry, hub *stream.Hub, clk clock.Clock, maxAudio int, logger *logrus.Logger) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	return &Server{
		authService: authService,
		sessions:    sessions,
		hub:         hub,
		clock:       clk,
		maxAudio:    maxAudio,
		logger:      logger,
	}
}

// Register mounts the chat routes on e.
func (s *Server) Register(e *echo.Echo) {
	chat := e.Group("/chat", s.AuthMiddleware)
	chat.POST("/sessions", s.CreateSession)
	chat.GET("/sessions/:id", s.GetSession)
	chat.DELETE("/sessions/:id", s.DeleteSession)
	chat.POST("/sessions/:id/messages", s.SendMessage)
	chat.POST("/sessions/:id/audio", s.SendAudio)
	chat.POST("/sessions/:id/call", s.ToggleCall)
	chat.PUT("/sessions/:id/connectivity", s.SetConnectivity)
	chat.GET("/sessions/:id/live", s.Live)
}
