package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vultisig/voice-chat/internal/types"
)

var (
	// ErrNotFound is returned when no message has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when appending a message whose id already exists.
	ErrDuplicateID = errors.New("duplicate message id")
	// ErrInvalidTransition is returned when a patch would regress a message status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// MessageStore is the ordered, in-memory message list of one session.
// Messages are appended and patched in place, never removed.
type MessageStore struct {
	mu       sync.RWMutex
	messages []types.Message
	index    map[string]int
}

// NewMessageStore creates an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		index: make(map[string]int),
	}
}

// Append adds a message to the end of the conversation.
func (s *MessageStore) Append(msg types.Message) error {
	if msg.ID == "" {
		return errors.New("message id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[msg.ID]; ok {
		return fmt.Errorf("append %s: %w", msg.ID, ErrDuplicateID)
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return nil
}

// Update merges the non-nil fields of patch into the message with the given id
// and returns the updated message.
func (s *MessageStore) Update(id string, patch types.MessagePatch) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return types.Message{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	msg := s.messages[i]
	if patch.Status != nil && !msg.Status.CanTransition(*patch.Status) {
		return types.Message{}, fmt.Errorf("update %s from %s to %s: %w", id, msg.Status, *patch.Status, ErrInvalidTransition)
	}

	if patch.Text != nil {
		msg.Text = *patch.Text
	}
	if patch.Transcription != nil {
		msg.Transcription = *patch.Transcription
	}
	if patch.ShowTranscription != nil {
		msg.ShowTranscription = types.Ptr(*patch.ShowTranscription)
	}
	if patch.Status != nil {
		msg.Status = *patch.Status
	}

	s.messages[i] = msg
	return msg, nil
}

// Get returns the message with the given id.
func (s *MessageStore) Get(id string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return types.Message{}, ErrNotFound
	}
	return s.messages[i], nil
}

// List returns a copy of all messages in append order.
func (s *MessageStore) List() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
