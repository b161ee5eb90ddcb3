package api

import "github.com/vultisig/voice-chat/internal/types"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// NoticeResponse is returned when an event was rejected; Notice is what the
// user should be shown.
type NoticeResponse struct {
	Error  string       `json:"error"`
	Notice types.Notice `json:"notice"`
}

// CreateSessionResponse is the response for creating a session.
type CreateSessionResponse struct {
	SessionID string      `json:"session_id"`
	State     types.State `json:"state"`
}
