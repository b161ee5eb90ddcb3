package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/clock"
	"github.com/vultisig/voice-chat/internal/service/conversation"
	"github.com/vultisig/voice-chat/internal/storage/memory"
)

var (
	// ErrNotFound is returned for unknown or already closed sessions.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session belongs to another owner.
	ErrForbidden = errors.New("session belongs to another owner")
)

// Session is one live conversation.
type Session struct {
	ID         string
	Owner      string
	CreatedAt  time.Time
	Controller *conversation.Controller

	lastSeen time.Time
}

// Liveness reports how many live connections a session has. Sessions with
// live connections are never reaped.
type Liveness interface {
	Subscribers(sessionID string) int
}

// Options configures a Registry.
type Options struct {
	Transcriber conversation.Transcriber
	Sink        conversation.EventSink
	Clock       clock.Clock
	// Chat is the template for every controller; SessionID and NewID are overwritten.
	Chat    conversation.Config
	IdleTTL time.Duration
	// Liveness is optional.
	Liveness Liveness
	// OnClose runs after a session's controller has shut down.
	OnClose func(sessionID string)
}

// Registry owns the in-memory sessions of the service.
type Registry struct {
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options, logger *logrus.Logger) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Registry{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session for owner.
func (r *Registry) Create(owner string) *Session {
	id := uuid.NewString()
	cfg := r.opts.Chat
	cfg.SessionID = id
	cfg.NewID = uuid.NewString

	now := r.opts.Clock.Now()
	sess := &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		Controller: conversation.NewController(
			memory.NewMessageStore(),
			r.opts.Transcriber,
			r.opts.Sink,
			r.opts.Clock,
			r.logger,
			cfg,
		),
		lastSeen: now,
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"session_id": id,
		"owner":      owner,
	}).Info("session created")
	return sess
}

// Get returns the session and marks it as recently used.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Owner != owner {
		return nil, ErrForbidden
	}
	sess.lastSeen = r.opts.Clock.Now()
	return sess, nil
}

// Close ends the session, discarding its conversation.
func (r *Registry) Close(id, owner string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if sess.Owner != owner {
		r.mu.Unlock()
		return ErrForbidden
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	r.shutdown(sess, "closed")
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap closes every session idle for longer than the TTL and returns how
// many were closed.
func (r *Registry) Reap() int {
	now := r.opts.Clock.Now()

	r.mu.Lock()
	var idle []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.lastSeen) < r.opts.IdleTTL {
			continue
		}
		if r.opts.Liveness != nil && r.opts.Liveness.Subscribers(id) > 0 {
			sess.lastSeen = now
			continue
		}
		idle = append(idle, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range idle {
		r.shutdown(sess, "idle")
	}
	return len(idle)
}

// Run reaps idle sessions every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				r.logger.WithField("count", n).Info("reaped idle sessions")
			}
		}
	}
}

// CloseAll ends every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		all = append(all, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range all {
		r.shutdown(sess, "shutdown")
	}
}

func (r *Registry) shutdown(sess *Session, reason string) {
	sess.Controller.Close()
	if r.opts.OnClose != nil {
		r.opts.OnClose(sess.ID)
	}
	r.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"reason":     reason,
	}).Info("session ended")
}
