package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/voice-chat/internal/service/conversation"
	"github.com/vultisig/voice-chat/internal/service/session"
	"github.com/vultisig/voice-chat/internal/storage/memory"
)

// ConnectivityRequest is the request body for reporting connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// CreateSession starts a new conversation for the caller.
func (s *Server) CreateSession(c echo.Context) error {
	sess := s.sessions.Create(GetOwner(c))
	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		State:     sess.Controller.State(),
	})
}

// GetSession returns the conversation snapshot.
func (s *Server) GetSession(c echo.Context) error {
	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Controller.Snapshot())
}

// DeleteSession ends the conversation and discards its messages.
func (s *Server) DeleteSession(c echo.Context) error {
	if err := s.sessions.Close(c.Param("id"), GetOwner(c)); err != nil {
		return s.writeSessionError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ToggleCall starts or ends the voice call.
func (s *Server) ToggleCall(c echo.Context) error {
	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}
	state, err := sess.Controller.ToggleCall()
	if err != nil {
		return s.writeControllerError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// SetConnectivity records the client's network status.
func (s *Server) SetConnectivity(c echo.Context) error {
	var req ConnectivityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Online == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "online is required"})
	}

	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Controller.SetOnline(*req.Online))
}

func (s *Server) lookupSession(c echo.Context) (*session.Session, error) {
	return s.sessions.Get(c.Param("id"), GetOwner(c))
}

// writeSessionError hides sessions of other owners behind a 404.
func (s *Server) writeSessionError(c echo.Context, err error) error {
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrForbidden) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	}
	s.logger.WithError(err).Error("failed to resolve session")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to resolve session"})
}

func (s *Server) writeControllerError(c echo.Context, err error) error {
	var rejected *conversation.RejectionError
	switch {
	case errors.As(err, &rejected):
		return c.JSON(http.StatusConflict, NoticeResponse{Error: rejected.Notice.Description, Notice: rejected.Notice})
	case errors.Is(err, conversation.ErrEmptyText), errors.Is(err, conversation.ErrInvalidAudio):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, memory.ErrDuplicateID):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "message id already exists"})
	case errors.Is(err, conversation.ErrClosed):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	}
	s.logger.WithError(err).WithField("session_id", c.Param("id")).Error("failed to process event")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to process event"})
}
