package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/vultisig/voice-chat/internal/clock"
)

var (
	// ErrNotRecording is returned when writing to or stopping a finished recorder.
	ErrNotRecording = errors.New("not recording")
	// ErrEmptyRecording is delivered when a recording stops without any audio.
	ErrEmptyRecording = errors.New("recording contains no audio")
	// ErrTooLarge is delivered when the buffered audio exceeds the byte cap.
	ErrTooLarge = errors.New("recording too large")
	// ErrAborted is delivered when the recording is abandoned.
	ErrAborted = errors.New("recording aborted")
)

const (
	// DefaultMaxDuration is the hard cap after which a recording is stopped.
	DefaultMaxDuration = 60 * time.Second
	defaultMediaType   = "audio/webm"
)

// Config describes one recording.
type Config struct {
	MediaType   string
	MaxDuration time.Duration
	MaxBytes    int
}

// Recording is the single result of a finished capture.
type Recording struct {
	DataURI   string
	MediaType string
	Bytes     int
	// Duration is in seconds and never exceeds the configured cap.
	Duration float64
	// Capped is true when the recording was stopped by the duration cap.
	Capped bool
}

// CompletionFunc receives exactly one result per recorder.
type CompletionFunc func(Recording, error)

// Recorder buffers audio chunks from a live stream and produces one encoded
// payload when stopped, either by the caller or by the duration cap.
type Recorder struct {
	clock    clock.Clock
	cfg      Config
	complete CompletionFunc

	mu      sync.Mutex
	buf     bytes.Buffer
	started time.Time
	timer   clock.Timer
	done    bool
}

// Start begins a recording. complete is invoked once, outside any lock.
func Start(clk clock.Clock, cfg Config, complete CompletionFunc) *Recorder {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MediaType == "" {
		cfg.MediaType = defaultMediaType
	}
	if clk == nil {
		clk = clock.System{}
	}

	r := &Recorder{
		clock:    clk,
		cfg:      cfg,
		complete: complete,
		started:  clk.Now(),
	}

	r.mu.Lock()
	r.timer = clk.AfterFunc(cfg.MaxDuration, func() { r.finish(true, nil) })
	r.mu.Unlock()
	return r
}

// Write appends an audio chunk. Exceeding the byte cap ends the recording with ErrTooLarge.
func (r *Recorder) Write(chunk []byte) (int, error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return 0, ErrNotRecording
	}
	if r.cfg.MaxBytes > 0 && r.buf.Len()+len(chunk) > r.cfg.MaxBytes {
		r.mu.Unlock()
		r.finish(false, ErrTooLarge)
		return 0, ErrTooLarge
	}
	n, err := r.buf.Write(chunk)
	r.mu.Unlock()
	return n, err
}

// Stop ends the recording on behalf of the caller.
func (r *Recorder) Stop() error {
	if !r.finish(false, nil) {
		return ErrNotRecording
	}
	return nil
}

// Abort ends the recording and discards its audio.
func (r *Recorder) Abort() {
	r.finish(false, ErrAborted)
}

// Active reports whether the recorder still accepts audio.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.done
}

// Elapsed returns how long the recording has been running, bounded by the cap.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

func (r *Recorder) elapsedLocked() time.Duration {
	d := r.clock.Now().Sub(r.started)
	if d > r.cfg.MaxDuration {
		d = r.cfg.MaxDuration
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (r *Recorder) finish(capped bool, cause error) bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return false
	}
	r.done = true
	if r.timer != nil && !capped {
		r.timer.Stop()
	}

	elapsed := r.elapsedLocked()
	if capped {
		elapsed = r.cfg.MaxDuration
	}
	data := r.buf.Bytes()
	rec := Recording{
		MediaType: r.cfg.MediaType,
		Bytes:     len(data),
		Duration:  elapsed.Seconds(),
		Capped:    capped,
	}
	err := cause
	if err == nil && len(data) == 0 {
		err = ErrEmptyRecording
	}
	if err == nil {
		rec.DataURI = "data:" + r.cfg.MediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	r.buf.Reset()
	r.mu.Unlock()

	if r.complete != nil {
		if err != nil {
			r.complete(Recording{}, err)
		} else {
			r.complete(rec, nil)
		}
	}
	return true
}
