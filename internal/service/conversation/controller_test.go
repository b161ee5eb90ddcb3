package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/voice-chat/internal/clock"
	"github.com/vultisig/voice-chat/internal/storage/memory"
	"github.com/vultisig/voice-chat/internal/types"
)

const testPayload = "data:audio/webm;base64,GkXfow=="

type fakeSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *fakeSink) Publish(event types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) notices() []types.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Notice
	for _, e := range s.events {
		if e.Type == types.EventNotice {
			out = append(out, *e.Notice)
		}
	}
	return out
}

func (s *fakeSink) statusesFor(id string) []types.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MessageStatus
	for _, e := range s.events {
		if e.Message != nil && e.Message.ID == id {
			out = append(out, e.Message.Status)
		}
	}
	return out
}

type fakeTranscriber struct {
	mu     sync.Mutex
	calls  int
	result *types.Transcription
	err    error
	panic  bool
	// release, when set, blocks Transcribe until it is closed.
	release chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioDataURI string) (*types.Transcription, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panic {
		panic("boom")
	}
	return f.result, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	ctrl        *Controller
	clock       *clock.Fake
	sink        *fakeSink
	transcriber *fakeTranscriber
	store       *memory.MessageStore
}

func newHarness(t *testing.T, transcriber *fakeTranscriber, random float64) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	seq := 0
	h := &harness{
		clock:       clock.NewFake(time.UnixMilli(1_700_000_000_000)),
		sink:        &fakeSink{},
		transcriber: transcriber,
		store:       memory.NewMessageStore(),
	}
	h.ctrl = NewController(h.store, transcriber, h.sink, h.clock, logger, Config{
		SessionID:     "s1",
		ReplyMinDelay: 1500 * time.Millisecond,
		ReplyJitter:   time.Second,
		AudioAckDelay: time.Second,
		MaxRecording:  time.Minute,
		Random:        func() float64 { return random },
		NewID: func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		},
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) waitForStatus(t *testing.T, id string, want types.MessageStatus) types.Message {
	t.Helper()
	var got types.Message
	require.Eventually(t, func() bool {
		for _, m := range h.ctrl.Snapshot().Messages {
			if m.ID == id && m.Status == want {
				got = m
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestSendTextKeepsOrderAndStatus(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	for i, text := range []string{"one", "two", "three"} {
		msg, err := h.ctrl.SendText(fmt.Sprintf("u%d", i), text)
		require.NoError(t, err)
		assert.Equal(t, types.StatusSent, msg.Status)
		assert.Equal(t, types.SenderUser, msg.Sender)
	}

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 3)
	for i, text := range []string{"one", "two", "three"} {
		assert.Equal(t, fmt.Sprintf("u%d", i), msgs[i].ID)
		assert.Equal(t, text, msgs[i].Text)
		assert.Equal(t, types.StatusSent, msgs[i].Status)
	}
}

func TestSendTextTrimsInput(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	msg, err := h.ctrl.SendText("", "  hi there \n")
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Text)
	assert.Equal(t, "gen-1", msg.ID)
}

func TestSendTextRejectsBlank(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	_, err := h.ctrl.SendText("", "   ")
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, h.store.Len())
	assert.False(t, h.ctrl.State().Sending)
}

func TestSendTextOfflineIsRejected(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)
	h.ctrl.SetOnline(false)

	_, err := h.ctrl.SendText("", "Hello!")
	require.ErrorIs(t, err, ErrOffline)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, types.NoticeOfflineMessage, rejection.Notice.Kind)

	assert.Equal(t, 0, h.store.Len())
	notices := h.sink.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, types.NoticeOfflineMessage, notices[0].Kind)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestSendTextDuplicateID(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	_, err := h.ctrl.SendText("same", "first")
	require.NoError(t, err)
	_, err = h.ctrl.SendText("same", "second")
	require.ErrorIs(t, err, memory.ErrDuplicateID)
	assert.Equal(t, 1, h.store.Len())
}

func TestSimulatedReplyGreeting(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0.999)

	msg, err := h.ctrl.SendText("", "Hello!")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", msg.Text)

	state := h.ctrl.State()
	assert.True(t, state.AITyping)
	assert.True(t, state.Sending)

	h.clock.Advance(1499 * time.Millisecond)
	assert.Equal(t, 1, h.store.Len())

	h.clock.Advance(1001 * time.Millisecond)
	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, GreetingReply, msgs[1].Text)
	assert.Equal(t, types.StatusSent, msgs[1].Status)

	state = h.ctrl.State()
	assert.False(t, state.AITyping)
	assert.False(t, state.Sending)
}

func TestSimulatedReplyMinimumDelay(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	_, err := h.ctrl.SendText("", "need help")
	require.NoError(t, err)

	h.clock.Advance(1499 * time.Millisecond)
	assert.Equal(t, 1, h.store.Len())

	h.clock.Advance(time.Millisecond)
	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, HelpReply, msgs[1].Text)
}

func TestOverlappingRepliesHoldFlagsUntilLast(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	_, err := h.ctrl.SendText("", "first")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.ctrl.SendText("", "second")
	require.NoError(t, err)

	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 3, h.store.Len())
	assert.True(t, h.ctrl.State().AITyping)
	assert.True(t, h.ctrl.State().Sending)

	h.clock.Advance(time.Second)
	assert.Equal(t, 4, h.store.Len())
	assert.False(t, h.ctrl.State().AITyping)
	assert.False(t, h.ctrl.State().Sending)
}

func TestToggleCall(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)
	h.ctrl.SetOnline(false)

	state, err := h.ctrl.ToggleCall()
	require.ErrorIs(t, err, ErrOffline)
	assert.False(t, state.CallActive)
	notices := h.sink.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, types.NoticeOfflineCall, notices[0].Kind)

	h.ctrl.SetOnline(true)
	state, err = h.ctrl.ToggleCall()
	require.NoError(t, err)
	assert.True(t, state.CallActive)

	h.ctrl.SetOnline(false)
	state, err = h.ctrl.ToggleCall()
	require.NoError(t, err)
	assert.False(t, state.CallActive)
	assert.Equal(t, 0, h.store.Len())
}

func TestSendAudioSuccess(t *testing.T) {
	transcriber := &fakeTranscriber{result: &types.Transcription{Transcription: "hi", ShowTranscription: false}}
	h := newHarness(t, transcriber, 0)

	msg, err := h.ctrl.SendAudio(AudioInput{ID: "a1", DataURI: testPayload, Duration: 12.5})
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranscribing, msg.Status)
	assert.Equal(t, testPayload, msg.AudioURL)
	assert.Equal(t, testPayload, msg.AudioDataURI)
	require.NotNil(t, msg.AudioDuration)
	assert.Equal(t, 12.5, *msg.AudioDuration)

	done := h.waitForStatus(t, "a1", types.StatusSent)
	assert.Equal(t, "hi", done.Transcription)
	require.NotNil(t, done.ShowTranscription)
	assert.False(t, *done.ShowTranscription)
	_, visible := done.VisibleTranscription()
	assert.False(t, visible)

	assert.True(t, h.ctrl.State().AITyping)
	assert.False(t, h.ctrl.State().Sending)

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, h.store.Len())
	h.clock.Advance(time.Millisecond)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, AudioAckReply, msgs[1].Text)
	assert.False(t, h.ctrl.State().AITyping)

	assert.Equal(t, 1, transcriber.callCount())
	assert.Equal(t, []types.MessageStatus{types.StatusTranscribing, types.StatusSent}, h.sink.statusesFor("a1"))
}

func TestSendAudioKeepsExplicitAudioURL(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{result: &types.Transcription{Transcription: "x", ShowTranscription: true}}, 0)

	msg, err := h.ctrl.SendAudio(AudioInput{DataURI: testPayload, AudioURL: "blob:abc", Duration: 1})
	require.NoError(t, err)
	assert.Equal(t, "blob:abc", msg.AudioURL)
	h.waitForStatus(t, msg.ID, types.StatusSent)
}

func TestSendAudioFailureBranches(t *testing.T) {
	cases := map[string]*fakeTranscriber{
		"error":     {err: errors.New("upstream down")},
		"nil":       {},
		"panic":     {panic: true},
		"and error": {result: &types.Transcription{Transcription: "ignored"}, err: errors.New("bad")},
	}
	for name, transcriber := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, transcriber, 0)

			_, err := h.ctrl.SendAudio(AudioInput{ID: "a1", DataURI: testPayload, Duration: 3})
			require.NoError(t, err)

			failed := h.waitForStatus(t, "a1", types.StatusFailed)
			assert.Equal(t, FailedTranscriptionText, failed.Transcription)
			require.NotNil(t, failed.ShowTranscription)
			assert.True(t, *failed.ShowTranscription)

			notices := h.sink.notices()
			require.Len(t, notices, 1)
			assert.Equal(t, types.NoticeTranscriptionFailed, notices[0].Kind)

			assert.False(t, h.ctrl.State().AITyping)
			assert.Equal(t, 0, h.clock.Pending())
			assert.Equal(t, 1, transcriber.callCount())
			assert.Equal(t, []types.MessageStatus{types.StatusTranscribing, types.StatusFailed}, h.sink.statusesFor("a1"))
		})
	}
}

func TestSendAudioOfflineIsRejected(t *testing.T) {
	transcriber := &fakeTranscriber{}
	h := newHarness(t, transcriber, 0)
	h.ctrl.SetOnline(false)

	_, err := h.ctrl.SendAudio(AudioInput{DataURI: testPayload, Duration: 2})
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, types.NoticeOfflineAudio, rejection.Notice.Kind)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, transcriber.callCount())
}

func TestSendAudioValidation(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	for _, in := range []AudioInput{
		{DataURI: "", Duration: 1},
		{DataURI: testPayload, Duration: -1},
		{DataURI: testPayload, Duration: 61},
	} {
		_, err := h.ctrl.SendAudio(in)
		require.ErrorIs(t, err, ErrInvalidAudio)
	}
	assert.Equal(t, 0, h.store.Len())
}

func TestSlowTranscriptionSurvivesOfflineAndNewMessages(t *testing.T) {
	transcriber := &fakeTranscriber{
		result:  &types.Transcription{Transcription: "late", ShowTranscription: true},
		release: make(chan struct{}),
	}
	h := newHarness(t, transcriber, 0)

	_, err := h.ctrl.SendAudio(AudioInput{ID: "a1", DataURI: testPayload, Duration: 5})
	require.NoError(t, err)
	_, err = h.ctrl.SendText("t1", "meanwhile")
	require.NoError(t, err)
	h.ctrl.SetOnline(false)

	close(transcriber.release)
	done := h.waitForStatus(t, "a1", types.StatusSent)
	assert.Equal(t, "late", done.Transcription)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "a1", msgs[0].ID)
	assert.Equal(t, "t1", msgs[1].ID)
	assert.Equal(t, "meanwhile", msgs[1].Text)
}

func TestTimestampsAreNonDecreasing(t *testing.T) {
	h := newHarness(t, &fakeTranscriber{}, 0)

	_, err := h.ctrl.SendText("", "a")
	require.NoError(t, err)
	h.clock.Advance(3 * time.Second)
	_, err = h.ctrl.SendText("", "b")
	require.NoError(t, err)

	msgs := h.ctrl.Snapshot().Messages
	for i := 1; i < len(msgs); i++ {
		assert.GreaterOrEqual(t, msgs[i].Timestamp, msgs[i-1].Timestamp)
	}
}

func TestCloseDropsPendingWork(t *testing.T) {
	transcriber := &fakeTranscriber{release: make(chan struct{})}
	h := newHarness(t, transcriber, 0)

	_, err := h.ctrl.SendText("", "hello")
	require.NoError(t, err)
	_, err = h.ctrl.SendAudio(AudioInput{DataURI: testPayload, Duration: 1})
	require.NoError(t, err)

	h.ctrl.Close()
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 2, h.store.Len())

	_, err = h.ctrl.SendText("", "after")
	require.ErrorIs(t, err, ErrClosed)
}
