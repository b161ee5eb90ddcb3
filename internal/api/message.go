package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/voice-chat/internal/service/conversation"
)

// SendMessageRequest is the request body for sending a text message.
type SendMessageRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SendAudioRequest is the request body for sending a finished recording.
type SendAudioRequest struct {
	ID           string   `json:"id"`
	AudioDataURI string   `json:"audio_data_uri"`
	AudioURL     string   `json:"audio_url"`
	Duration     *float64 `json:"duration"`
}

// SendMessage handles POST /chat/sessions/:id/messages
func (s *Server) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}

	msg, err := sess.Controller.SendText(req.ID, req.Text)
	if err != nil {
		return s.writeControllerError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// SendAudio handles POST /chat/sessions/:id/audio. The message is returned
// while its transcription is still running.
func (s *Server) SendAudio(c echo.Context) error {
	var req SendAudioRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Duration == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "duration is required"})
	}

	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}

	msg, err := sess.Controller.SendAudio(conversation.AudioInput{
		ID:       req.ID,
		DataURI:  req.AudioDataURI,
		AudioURL: req.AudioURL,
		Duration: *req.Duration,
	})
	if err != nil {
		return s.writeControllerError(c, err)
	}
	return c.JSON(http.StatusAccepted, msg)
}
