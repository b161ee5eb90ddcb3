package types

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageStatus is the lifecycle status of a message.
type MessageStatus string

const (
	StatusPending      MessageStatus = "pending"
	StatusTranscribing MessageStatus = "transcribing"
	StatusSent         MessageStatus = "sent"
	StatusFailed       MessageStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether a message may move from s to next.
// Staying in the same status is always allowed.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusTranscribing || next.Terminal()
	case StatusTranscribing:
		return next.Terminal()
	default:
		return false
	}
}

// Message represents a single entry in a chat session.
type Message struct {
	ID                string        `json:"id"`
	Text              string        `json:"text,omitempty"`
	AudioURL          string        `json:"audio_url,omitempty"`
	AudioDataURI      string        `json:"-"` // payload sent for transcription, not echoed to clients
	AudioDuration     *float64      `json:"audio_duration,omitempty"`
	Transcription     string        `json:"transcription,omitempty"`
	ShowTranscription *bool         `json:"show_transcription,omitempty"`
	Sender            Sender        `json:"sender"`
	Timestamp         int64         `json:"timestamp"`
	Status            MessageStatus `json:"status"`
}

// VisibleTranscription returns the transcription only when it is flagged for display.
func (m Message) VisibleTranscription() (string, bool) {
	if m.Transcription == "" || m.ShowTranscription == nil || !*m.ShowTranscription {
		return "", false
	}
	return m.Transcription, true
}

// MessagePatch is a partial update. Nil fields are left untouched.
type MessagePatch struct {
	Text              *string
	Transcription     *string
	ShowTranscription *bool
	Status            *MessageStatus
}

// State holds the controller-owned session flags.
type State struct {
	Online     bool `json:"online"`
	CallActive bool `json:"call_active"`
	AITyping   bool `json:"ai_typing"`
	Sending    bool `json:"sending"`
}

// Snapshot is a read-only projection of a session.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Messages  []Message `json:"messages"`
}

// NoticeKind identifies a transient user-facing notice.
type NoticeKind string

const (
	NoticeOfflineMessage      NoticeKind = "offline_message"
	NoticeOfflineAudio        NoticeKind = "offline_audio"
	NoticeOfflineCall         NoticeKind = "offline_call"
	NoticeTranscriptionFailed NoticeKind = "transcription_failed"
)

// Notice is a non-fatal message surfaced to the user.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Destructive bool       `json:"destructive"`
}

// EventType names a session event.
type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventMessageUpdated  EventType = "message_updated"
	EventStateChanged    EventType = "state_changed"
	EventNotice          EventType = "notice"
)

// Event is emitted for every store mutation, flag change and notice.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Message   *Message  `json:"message,omitempty"`
	State     *State    `json:"state,omitempty"`
	Notice    *Notice   `json:"notice,omitempty"`
	At        time.Time `json:"at"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Transcription is the result of transcribing one audio message.
type Transcription struct {
	Transcription     string `json:"transcription"`
	ShowTranscription bool   `json:"show_transcription"`
}
