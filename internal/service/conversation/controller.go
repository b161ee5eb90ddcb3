package conversation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/clock"
	"github.com/vultisig/voice-chat/internal/storage/memory"
	"github.com/vultisig/voice-chat/internal/types"
)

var (
	// ErrOffline is wrapped by every RejectionError.
	ErrOffline = errors.New("offline")
	// ErrEmptyText is returned when a text message is blank after trimming.
	ErrEmptyText = errors.New("message text is empty")
	// ErrInvalidAudio is returned for an empty payload or an out-of-range duration.
	ErrInvalidAudio = errors.New("invalid audio message")
	// ErrMalformedTranscription is returned when the transcriber yields no result.
	ErrMalformedTranscription = errors.New("malformed transcription result")
	// ErrClosed is returned after the session has ended.
	ErrClosed = errors.New("conversation closed")
)

// RejectionError reports an event that was refused without mutating the conversation.
type RejectionError struct {
	Notice types.Notice
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected: %s", e.Notice.Description)
}

func (e *RejectionError) Unwrap() error {
	return ErrOffline
}

// Transcriber converts an encoded audio payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioDataURI string) (*types.Transcription, error)
}

// EventSink receives every event of a conversation. Publish must not block.
type EventSink interface {
	Publish(event types.Event)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(event types.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(event)
		}
	}
}

type discardSink struct{}

func (discardSink) Publish(types.Event) {}

// Config controls reply timing and audio limits.
type Config struct {
	SessionID            string
	ReplyMinDelay        time.Duration
	ReplyJitter          time.Duration
	AudioAckDelay        time.Duration
	TranscriptionTimeout time.Duration
	MaxRecording         time.Duration
	// Random returns a float in [0, 1). Defaults to math/rand.
	Random func() float64
	// NewID generates message ids when the caller does not supply one.
	NewID func() string
}

// AudioInput is a completed recording submitted for sending.
type AudioInput struct {
	ID       string
	DataURI  string
	AudioURL string
	Duration float64
}

// Controller owns one conversation: its message store, its flags and the
// asynchronous reply and transcription sequences. Every transition runs under mu.
type Controller struct {
	store       *memory.MessageStore
	transcriber Transcriber
	sink        EventSink
	clock       clock.Clock
	logger      *logrus.Entry
	cfg         Config

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu                 sync.Mutex
	online             bool
	callActive         bool
	pendingReplies     int
	pendingTextReplies int
	lastTimestamp      int64
	timers             map[uint64]clock.Timer
	timerSeq           uint64
	closed             bool
}

// NewController creates a Controller for a fresh, online session.
func NewController(
	store *memory.MessageStore,
	transcriber Transcriber,
	sink EventSink,
	clk clock.Clock,
	logger *logrus.Logger,
	cfg Config,
) *Controller {
	if cfg.ReplyMinDelay <= 0 {
		cfg.ReplyMinDelay = 1500 * time.Millisecond
	}
	if cfg.ReplyJitter < 0 {
		cfg.ReplyJitter = 0
	}
	if cfg.AudioAckDelay <= 0 {
		cfg.AudioAckDelay = time.Second
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = time.Minute
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if sink == nil {
		sink = discardSink{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:       store,
		transcriber: transcriber,
		sink:        sink,
		clock:       clk,
		logger:      logger.WithField("session_id", cfg.SessionID),
		cfg:         cfg,
		baseCtx:     ctx,
		cancel:      cancel,
		online:      true,
		timers:      make(map[uint64]clock.Timer),
	}
}

// SendText appends a user text message and starts the simulated reply.
func (c *Controller) SendText(id, text string) (types.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.Message{}, ErrClosed
	}
	if !c.online {
		return types.Message{}, c.rejectLocked(types.NoticeOfflineMessage)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return types.Message{}, ErrEmptyText
	}

	msg := types.Message{
		ID:        c.resolveID(id),
		Text:      trimmed,
		Sender:    types.SenderUser,
		Timestamp: c.timestampLocked(),
		Status:    types.StatusSent,
	}
	if err := c.store.Append(msg); err != nil {
		return types.Message{}, fmt.Errorf("append text message: %w", err)
	}
	c.emitMessageLocked(types.EventMessageAppended, msg)

	c.startReplyLocked(trimmed)
	return msg, nil
}

// SendAudio appends a user audio message in the transcribing state and starts
// its transcription.
func (c *Controller) SendAudio(in AudioInput) (types.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.Message{}, ErrClosed
	}
	if !c.online {
		return types.Message{}, c.rejectLocked(types.NoticeOfflineAudio)
	}
	if err := c.validateAudio(in); err != nil {
		return types.Message{}, err
	}

	ref := in.AudioURL
	if ref == "" {
		ref = in.DataURI
	}
	msg := types.Message{
		ID:            c.resolveID(in.ID),
		AudioURL:      ref,
		AudioDataURI:  in.DataURI,
		AudioDuration: types.Ptr(in.Duration),
		Sender:        types.SenderUser,
		Timestamp:     c.timestampLocked(),
		Status:        types.StatusTranscribing,
	}
	if err := c.store.Append(msg); err != nil {
		return types.Message{}, fmt.Errorf("append audio message: %w", err)
	}
	c.emitMessageLocked(types.EventMessageAppended, msg)

	c.wg.Add(1)
	go c.transcribe(msg.ID, in.DataURI)
	return msg, nil
}

// ToggleCall starts or ends the voice call. Starting requires connectivity.
func (c *Controller) ToggleCall() (types.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.stateLocked(), ErrClosed
	}
	if !c.callActive && !c.online {
		return c.stateLocked(), c.rejectLocked(types.NoticeOfflineCall)
	}

	c.callActive = !c.callActive
	c.emitStateLocked()
	return c.stateLocked(), nil
}

// SetOnline records a connectivity change. In-flight work is unaffected.
func (c *Controller) SetOnline(online bool) types.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.online != online {
		c.online = online
		if !c.closed {
			c.emitStateLocked()
		}
	}
	return c.stateLocked()
}

// State returns the current flags.
func (c *Controller) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Snapshot returns the flags together with every message in order.
func (c *Controller) Snapshot() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.Snapshot{
		SessionID: c.cfg.SessionID,
		State:     c.stateLocked(),
		Messages:  c.store.List(),
	}
}

// MaxRecording is the capture cap enforced for this conversation.
func (c *Controller) MaxRecording() time.Duration {
	return c.cfg.MaxRecording
}

// Close ends the session: pending timers are dropped and in-flight
// transcriptions are abandoned. Close waits for transcription goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) validateAudio(in AudioInput) error {
	if strings.TrimSpace(in.DataURI) == "" {
		return fmt.Errorf("%w: audio payload is required", ErrInvalidAudio)
	}
	if math.IsNaN(in.Duration) || math.IsInf(in.Duration, 0) || in.Duration < 0 {
		return fmt.Errorf("%w: duration must be a non-negative number of seconds", ErrInvalidAudio)
	}
	if c.cfg.MaxRecording > 0 && in.Duration > c.cfg.MaxRecording.Seconds() {
		return fmt.Errorf("%w: duration exceeds %s", ErrInvalidAudio, c.cfg.MaxRecording)
	}
	return nil
}

func (c *Controller) startReplyLocked(userText string) {
	c.pendingReplies++
	c.pendingTextReplies++
	c.emitStateLocked()

	delay := c.cfg.ReplyMinDelay + time.Duration(c.cfg.Random()*float64(c.cfg.ReplyJitter))
	c.scheduleLocked(delay, func() {
		c.appendAssistantLocked(SelectReply(userText))
		c.pendingReplies--
		c.pendingTextReplies--
		c.emitStateLocked()
	})
}

func (c *Controller) transcribe(id, payload string) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.TranscriptionTimeout)
	defer cancel()

	started := c.clock.Now()
	result, err := c.callTranscriber(ctx, payload)
	if err == nil && result == nil {
		err = ErrMalformedTranscription
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"message_id": id,
		"elapsed":    c.clock.Now().Sub(started).String(),
	})

	if err != nil {
		log.WithError(err).Warn("audio transcription failed")
		c.failTranscriptionLocked(id)
		return
	}

	updated, err := c.store.Update(id, types.MessagePatch{
		Transcription:     types.Ptr(result.Transcription),
		ShowTranscription: types.Ptr(result.ShowTranscription),
		Status:            types.Ptr(types.StatusSent),
	})
	if err != nil {
		log.WithError(err).Warn("failed to apply transcription")
		return
	}
	c.emitMessageLocked(types.EventMessageUpdated, updated)
	log.Debug("audio transcribed")

	c.pendingReplies++
	c.emitStateLocked()
	c.scheduleLocked(c.cfg.AudioAckDelay, func() {
		c.appendAssistantLocked(AudioAckReply)
		c.pendingReplies--
		c.emitStateLocked()
	})
}

// callTranscriber turns a transcriber panic into an error so the message
// still reaches a terminal status.
func (c *Controller) callTranscriber(ctx context.Context, payload string) (result *types.Transcription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcriber panic: %v", r)
		}
	}()
	if c.transcriber == nil {
		return nil, errors.New("no transcriber configured")
	}
	return c.transcriber.Transcribe(ctx, payload)
}

func (c *Controller) failTranscriptionLocked(id string) {
	updated, err := c.store.Update(id, types.MessagePatch{
		Transcription:     types.Ptr(FailedTranscriptionText),
		ShowTranscription: types.Ptr(true),
		Status:            types.Ptr(types.StatusFailed),
	})
	if err != nil {
		c.logger.WithError(err).WithField("message_id", id).Warn("failed to mark message as failed")
	} else {
		c.emitMessageLocked(types.EventMessageUpdated, updated)
	}

	notice := noticeFor(types.NoticeTranscriptionFailed)
	c.sink.Publish(types.Event{
		Type:      types.EventNotice,
		SessionID: c.cfg.SessionID,
		Notice:    &notice,
		At:        c.clock.Now(),
	})
}

func (c *Controller) appendAssistantLocked(text string) {
	msg := types.Message{
		ID:        c.cfg.NewID(),
		Text:      text,
		Sender:    types.SenderAssistant,
		Timestamp: c.timestampLocked(),
		Status:    types.StatusSent,
	}
	if err := c.store.Append(msg); err != nil {
		c.logger.WithError(err).Error("failed to append assistant reply")
		return
	}
	c.emitMessageLocked(types.EventMessageAppended, msg)
}

func (c *Controller) scheduleLocked(d time.Duration, f func()) {
	c.timerSeq++
	id := c.timerSeq
	c.timers[id] = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, id)
		if c.closed {
			return
		}
		f()
	})
}

func (c *Controller) rejectLocked(kind types.NoticeKind) error {
	notice := noticeFor(kind)
	c.logger.WithField("notice", kind).Info("event rejected while offline")
	c.sink.Publish(types.Event{
		Type:      types.EventNotice,
		SessionID: c.cfg.SessionID,
		Notice:    &notice,
		At:        c.clock.Now(),
	})
	return &RejectionError{Notice: notice}
}

func (c *Controller) resolveID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return c.cfg.NewID()
}

// timestampLocked returns milliseconds since epoch, never earlier than the previous one.
func (c *Controller) timestampLocked() int64 {
	ts := c.clock.Now().UnixMilli()
	if ts < c.lastTimestamp {
		ts = c.lastTimestamp
	}
	c.lastTimestamp = ts
	return ts
}

func (c *Controller) stateLocked() types.State {
	return types.State{
		Online:     c.online,
		CallActive: c.callActive,
		AITyping:   c.pendingReplies > 0,
		Sending:    c.pendingTextReplies > 0,
	}
}

func (c *Controller) emitStateLocked() {
	state := c.stateLocked()
	c.sink.Publish(types.Event{
		Type:      types.EventStateChanged,
		SessionID: c.cfg.SessionID,
		State:     &state,
		At:        c.clock.Now(),
	})
}

func (c *Controller) emitMessageLocked(typ types.EventType, msg types.Message) {
	c.sink.Publish(types.Event{
		Type:      typ,
		SessionID: c.cfg.SessionID,
		Message:   &msg,
		At:        c.clock.Now(),
	})
}
