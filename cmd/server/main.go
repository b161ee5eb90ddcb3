package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/ai/anthropic"
	"github.com/vultisig/voice-chat/internal/ai/whisper"
	"github.com/vultisig/voice-chat/internal/api"
	"github.com/vultisig/voice-chat/internal/cache/redis"
	"github.com/vultisig/voice-chat/internal/clock"
	"github.com/vultisig/voice-chat/internal/config"
	"github.com/vultisig/voice-chat/internal/service"
	"github.com/vultisig/voice-chat/internal/service/conversation"
	"github.com/vultisig/voice-chat/internal/service/session"
	"github.com/vultisig/voice-chat/internal/service/transcription"
	"github.com/vultisig/voice-chat/internal/stream"
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

	// Configure log format
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	logger.Info("starting voice-chat server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var workers sync.WaitGroup

	hub := stream.NewHub(0, logger)
	sinks := conversation.MultiSink{hub}

	// Redis event publishing is optional
	if cfg.Redis.URI != "" {
		redisClient, err := redis.New(cfg.Redis.URI)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisClient.Close()

		publisher := redis.NewEventPublisher(redisClient, 0, logger)
		sinks = append(sinks, publisher)
		workers.Add(1)
		go func() {
			defer workers.Done()
			publisher.Run(ctx)
		}()
	}

	// Initialize services
	authService := service.NewAuthService(cfg.Server.JWTSecret)
	if !authService.Enabled() {
		logger.Warn("JWT_SECRET not set, authentication disabled")
	}

	sessions := session.NewRegistry(session.Options{
		Transcriber: newTranscriber(cfg, logger),
		Sink:        sinks,
		Clock:       clock.System{},
		Chat: conversation.Config{
			ReplyMinDelay:        cfg.Chat.ReplyMinDelay,
			ReplyJitter:          cfg.Chat.ReplyJitter,
			AudioAckDelay:        cfg.Chat.AudioAckDelay,
			TranscriptionTimeout: cfg.Transcription.Timeout,
			MaxRecording:         cfg.Chat.MaxRecording,
		},
		IdleTTL:  cfg.Session.IdleTTL,
		Liveness: hub,
		OnClose:  hub.CloseSession,
	}, logger)

	workers.Add(1)
	go func() {
		defer workers.Done()
		sessions.Run(ctx, cfg.Session.ReapInterval)
	}()

	// Initialize API server
	server := api.NewServer(authService, sessions, hub, clock.System{}, int(cfg.Transcription.MaxBytes), logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Add middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
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
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"sessions":      sessions.Len(),
			"transcription": cfg.TranscriptionEnabled(),
		})
	})

	// Chat routes
	server.Register(e)

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

	sessions.CloseAll()
	stop()
	workers.Wait()

	logger.Info("server stopped")
}

// newTranscriber builds the audio pipeline: Whisper speech-to-text with an
// optional Claude visibility check. Without a Whisper key every audio message
// gets the disabled notice as its transcription.
func newTranscriber(cfg *config.Config, logger *logrus.Logger) conversation.Transcriber {
	if !cfg.TranscriptionEnabled() {
		logger.Warn("WHISPER_API_KEY not set, audio transcription disabled")
		return transcription.Disabled{}
	}

	stt := whisper.NewClient(whisper.Config{
		APIBase:  cfg.Whisper.APIBase,
		APIKey:   cfg.Whisper.APIKey,
		Model:    cfg.Whisper.Model,
		Language: cfg.Whisper.Language,
		Timeout:  cfg.Transcription.Timeout,
	}, logger)

	var classifier transcription.VisibilityClassifier
	if cfg.Anthropic.APIKey != "" {
		classifier = transcription.NewAnthropicClassifier(anthropic.NewClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model))
	}

	return transcription.NewService(stt, classifier, int(cfg.Transcription.MaxBytes), logger)
}
