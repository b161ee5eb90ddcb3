package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/ai/whisper"
	"github.com/vultisig/voice-chat/internal/types"
)

// DisabledText is returned for every audio message when transcription is turned off.
const DisabledText = "Audio transcription feature is currently disabled."

// SpeechToText converts raw audio into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*whisper.Result, error)
}

// VisibilityClassifier decides whether a transcription should be shown.
type VisibilityClassifier interface {
	ShouldShow(ctx context.Context, text string, language string) (bool, error)
}

// Service transcribes data URI audio payloads. When no classifier is set, every
// non-empty transcription is shown.
type Service struct {
	stt        SpeechToText
	classifier VisibilityClassifier
	maxBytes   int
	logger     *logrus.Logger
}

// NewService creates a transcription Service.
func NewService(stt SpeechToText, classifier VisibilityClassifier, maxBytes int, logger *logrus.Logger) *Service {
	return &Service{
		stt:        stt,
		classifier: classifier,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Transcribe decodes the payload, transcribes it and decides its visibility.
func (s *Service) Transcribe(ctx context.Context, audioDataURI string) (*types.Transcription, error) {
	payload, err := ParseDataURI(audioDataURI, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if s.stt == nil {
		return nil, errors.New("no speech-to-text backend configured")
	}

	result, err := s.stt.Transcribe(ctx, bytes.NewReader(payload.Data), payload.Filename())
	if err != nil {
		return nil, fmt.Errorf("speech to text: %w", err)
	}
	if result == nil {
		return nil, ErrMalformedOutput
	}

	text := strings.TrimSpace(result.Text)
	log := s.logger.WithFields(logrus.Fields{
		"media_type": payload.MediaType,
		"bytes":      len(payload.Data),
		"text_len":   len(text),
	})

	if text == "" {
		log.Debug("empty transcription, hiding")
		return &types.Transcription{Transcription: "", ShowTranscription: false}, nil
	}

	show := true
	if s.classifier != nil {
		show, err = s.classifier.ShouldShow(ctx, text, result.Language)
		if err != nil {
			return nil, fmt.Errorf("decide visibility: %w", err)
		}
	}

	log.WithField("show", show).Info("audio transcribed")
	return &types.Transcription{Transcription: text, ShowTranscription: show}, nil
}

// Disabled answers every request with DisabledText.
type Disabled struct{}

func (Disabled) Transcribe(context.Context, string) (*types.Transcription, error) {
	return &types.Transcription{Transcription: DisabledText, ShowTranscription: true}, nil
}
