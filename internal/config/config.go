package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the voice-chat service.
type Config struct {
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Server        ServerConfig
	Redis         RedisConfig
	Anthropic     AnthropicConfig
	Whisper       WhisperConfig
	Transcription TranscriptionConfig
	Chat          ChatConfig
	Session       SessionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port string `envconfig:"SERVER_PORT" default:"8080"`
	// JWTSecret enables bearer authentication when set.
	JWTSecret string `envconfig:"JWT_SECRET"`
}

// RedisConfig holds Redis configuration. An empty URI disables event publishing.
type RedisConfig struct {
	URI string `envconfig:"REDIS_URI"`
}

// AnthropicConfig holds Anthropic Claude API configuration.
type AnthropicConfig struct {
	APIKey string `envconfig:"ANTHROPIC_API_KEY"`
	Model  string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
}

// WhisperConfig holds speech-to-text configuration.
type WhisperConfig struct {
	APIKey   string `envconfig:"WHISPER_API_KEY"`
	APIBase  string `envconfig:"WHISPER_API_BASE" default:"https://api.openai.com/v1"`
	Model    string `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	Language string `envconfig:"WHISPER_LANGUAGE"`
}

// TranscriptionConfig bounds each transcription request.
type TranscriptionConfig struct {
	Timeout  time.Duration `envconfig:"TRANSCRIPTION_TIMEOUT" default:"60s"`
	MaxBytes int64         `envconfig:"TRANSCRIPTION_MAX_BYTES" default:"10485760"`
}

// ChatConfig controls the simulated assistant.
type ChatConfig struct {
	ReplyMinDelay time.Duration `envconfig:"CHAT_REPLY_MIN_DELAY" default:"1500ms"`
	ReplyJitter   time.Duration `envconfig:"CHAT_REPLY_JITTER" default:"1000ms"`
	AudioAckDelay time.Duration `envconfig:"CHAT_AUDIO_ACK_DELAY" default:"1000ms"`
	MaxRecording  time.Duration `envconfig:"CHAT_MAX_RECORDING" default:"60s"`
}

// SessionConfig controls idle session reaping.
type SessionConfig struct {
	IdleTTL      time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m"`
	ReapInterval time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"1m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for logical errors beyond required fields.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.Whisper.APIKey != "" {
		u, err := url.Parse(c.Whisper.APIBase)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("WHISPER_API_BASE must be an absolute URL, got %q", c.Whisper.APIBase)
		}
	}
	if c.Transcription.Timeout <= 0 {
		return fmt.Errorf("TRANSCRIPTION_TIMEOUT must be positive")
	}
	if c.Transcription.MaxBytes <= 0 {
		return fmt.Errorf("TRANSCRIPTION_MAX_BYTES must be positive")
	}
	if c.Chat.ReplyMinDelay <= 0 || c.Chat.AudioAckDelay <= 0 {
		return fmt.Errorf("reply delays must be positive")
	}
	if c.Chat.ReplyJitter < 0 {
		return fmt.Errorf("CHAT_REPLY_JITTER must not be negative")
	}
	if c.Chat.MaxRecording <= 0 {
		return fmt.Errorf("CHAT_MAX_RECORDING must be positive")
	}
	if c.Session.IdleTTL <= 0 || c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session TTL and reap interval must be positive")
	}
	return nil
}

// TranscriptionEnabled reports whether a speech-to-text backend is configured.
func (c *Config) TranscriptionEnabled() bool {
	return c.Whisper.APIKey != ""
}
