package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/voice-chat/internal/ai/anthropic"
	"github.com/vultisig/voice-chat/internal/ai/whisper"
)

type fakeSTT struct {
	calls    int
	filename string
	data     []byte
	result   *whisper.Result
	err      error
}

func (f *fakeSTT) Transcribe(_ context.Context, audio io.Reader, filename string) (*whisper.Result, error) {
	f.calls++
	f.filename = filename
	f.data, _ = io.ReadAll(audio)
	return f.result, f.err
}

type fakeClassifier struct {
	calls int
	show  bool
	err   error
}

func (f *fakeClassifier) ShouldShow(context.Context, string, string) (bool, error) {
	f.calls++
	return f.show, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestServiceTranscribe(t *testing.T) {
	stt := &fakeSTT{result: &whisper.Result{Text: "  hi  ", Language: "en"}}
	classifier := &fakeClassifier{show: false}
	svc := NewService(stt, classifier, 0, quietLogger())

	out, err := svc.Transcribe(context.Background(), dataURI("audio/wav", wavHeader))
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Transcription)
	assert.False(t, out.ShowTranscription)
	assert.Equal(t, 1, stt.calls)
	assert.Equal(t, "audio.wav", stt.filename)
	assert.Equal(t, wavHeader, stt.data)
	assert.Equal(t, 1, classifier.calls)
}

func TestServiceShowsWithoutClassifier(t *testing.T) {
	svc := NewService(&fakeSTT{result: &whisper.Result{Text: "hello"}}, nil, 0, quietLogger())

	out, err := svc.Transcribe(context.Background(), dataURI("audio/wav", wavHeader))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Transcription)
	assert.True(t, out.ShowTranscription)
}

func TestServiceHidesEmptyTranscription(t *testing.T) {
	classifier := &fakeClassifier{show: true}
	svc := NewService(&fakeSTT{result: &whisper.Result{Text: "   "}}, classifier, 0, quietLogger())

	out, err := svc.Transcribe(context.Background(), dataURI("audio/wav", wavHeader))
	require.NoError(t, err)
	assert.Empty(t, out.Transcription)
	assert.False(t, out.ShowTranscription)
	assert.Equal(t, 0, classifier.calls)
}

func TestServiceErrors(t *testing.T) {
	uri := dataURI("audio/wav", wavHeader)

	_, err := NewService(&fakeSTT{}, nil, 0, quietLogger()).Transcribe(context.Background(), "not a uri")
	assert.ErrorIs(t, err, ErrUnreadableAudio)

	_, err = NewService(&fakeSTT{err: errors.New("down")}, nil, 0, quietLogger()).Transcribe(context.Background(), uri)
	assert.Error(t, err)

	_, err = NewService(&fakeSTT{}, nil, 0, quietLogger()).Transcribe(context.Background(), uri)
	assert.ErrorIs(t, err, ErrMalformedOutput)

	classifier := &fakeClassifier{err: ErrMalformedOutput}
	_, err = NewService(&fakeSTT{result: &whisper.Result{Text: "x"}}, classifier, 0, quietLogger()).Transcribe(context.Background(), uri)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestDisabled(t *testing.T) {
	out, err := Disabled{}.Transcribe(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, DisabledText, out.Transcription)
	assert.True(t, out.ShowTranscription)
}

func anthropicServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropic.Request
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) && assert.NotNil(t, req.ToolChoice) {
			assert.Equal(t, visibilityToolName, req.ToolChoice.Name)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClassifier(t *testing.T) {
	srv := anthropicServer(t, `{"content":[{"type":"tool_use","name":"report_transcription_visibility","input":{"show_transcription":false,"reason":"filler"}}]}`)
	classifier := NewAnthropicClassifier(anthropic.NewClient("k", "m", anthropic.WithBaseURL(srv.URL)))

	show, err := classifier.ShouldShow(context.Background(), "uh", "en")
	require.NoError(t, err)
	assert.False(t, show)
}

func TestAnthropicClassifierMalformed(t *testing.T) {
	for _, body := range []string{
		`{"content":[{"type":"text","text":"yes, show it"}]}`,
		`{"content":[{"type":"tool_use","name":"report_transcription_visibility","input":{"reason":"no flag"}}]}`,
		`{"content":[{"type":"tool_use","name":"report_transcription_visibility","input":"oops"}]}`,
	} {
		srv := anthropicServer(t, body)
		classifier := NewAnthropicClassifier(anthropic.NewClient("k", "m", anthropic.WithBaseURL(srv.URL)))

		_, err := classifier.ShouldShow(context.Background(), "hello", "")
		assert.ErrorIs(t, err, ErrMalformedOutput, body)
	}
}
