package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/capture"
	"github.com/vultisig/voice-chat/internal/service/conversation"
	"github.com/vultisig/voice-chat/internal/service/session"
	"github.com/vultisig/voice-chat/internal/stream"
	"github.com/vultisig/voice-chat/internal/types"
)

const (
	liveWriteWait    = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingPeriod   = livePongWait * 9 / 10
	liveMaxFrameSize = 1 << 20
)

// Frame types exchanged on the live connection.
const (
	FrameSnapshot  = "snapshot"
	FrameEvent     = "event"
	FrameRecording = "recording"
	FrameError     = "error"

	FrameSendText     = "send_text"
	FrameToggleCall   = "toggle_call"
	FrameConnectivity = "connectivity"
	FrameRecordStart  = "record_start"
	FrameRecordStop   = "record_stop"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientFrame is a JSON command sent by a live client. Audio chunks of the
// active recording travel as binary frames.
type ClientFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Online    *bool  `json:"online,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// RecordingStatus describes the live recording of a connection.
type RecordingStatus struct {
	Active   bool    `json:"active"`
	Duration float64 `json:"duration,omitempty"`
	Capped   bool    `json:"capped,omitempty"`
	MaxSecs  float64 `json:"max_seconds,omitempty"`
}

// LiveFrame is a JSON frame sent to live clients.
type LiveFrame struct {
	Type      string           `json:"type"`
	Snapshot  *types.Snapshot  `json:"snapshot,omitempty"`
	Event     *types.Event     `json:"event,omitempty"`
	Recording *RecordingStatus `json:"recording,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type liveConn struct {
	conn   *websocket.Conn
	logger *logrus.Entry
	mu     sync.Mutex
}

func (l *liveConn) send(frame LiveFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return l.conn.WriteJSON(frame)
}

func (l *liveConn) sendError(msg string) {
	if err := l.send(LiveFrame{Type: FrameError, Error: msg}); err != nil {
		l.logger.WithError(err).Debug("websocket write failed")
	}
}

func (l *liveConn) ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait))
}

func (l *liveConn) closeNormal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
	_ = l.conn.Close()
}

// Live handles GET /chat/sessions/:id/live. The client receives a snapshot
// followed by every event of the session.
func (s *Server) Live(c echo.Context) error {
	sess, err := s.lookupSession(c)
	if err != nil {
		return s.writeSessionError(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	lc := &liveConn{
		conn:   conn,
		logger: s.logger.WithField("session_id", sess.ID),
	}

	sub := s.hub.Subscribe(sess.ID)
	defer sub.Close()

	snapshot := sess.Controller.Snapshot()
	if err := lc.send(LiveFrame{Type: FrameSnapshot, Snapshot: &snapshot}); err != nil {
		lc.logger.WithError(err).Debug("failed to send snapshot")
		return nil
	}

	lc.logger.Info("live client connected")
	defer lc.logger.Info("live client disconnected")

	go s.pump(lc, sub)
	s.readLoop(lc, sess)
	return nil
}

// pump forwards hub events to the client until the subscription ends.
func (s *Server) pump(lc *liveConn, sub *stream.Subscription) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				lc.closeNormal()
				return
			}
			if err := lc.send(LiveFrame{Type: FrameEvent, Event: &event}); err != nil {
				lc.logger.WithError(err).Debug("websocket write failed")
				_ = lc.conn.Close()
				return
			}
		case <-ticker.C:
			if err := lc.ping(); err != nil {
				_ = lc.conn.Close()
				return
			}
		}
	}
}

func (s *Server) readLoop(lc *liveConn, sess *session.Session) {
	lc.conn.SetReadLimit(liveMaxFrameSize)
	_ = lc.conn.SetReadDeadline(time.Now().Add(livePongWait))
	lc.conn.SetPongHandler(func(string) error {
		return lc.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	var rec *capture.Recorder
	defer func() {
		if rec != nil {
			rec.Abort()
		}
	}()

	for {
		kind, data, err := lc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				lc.logger.WithError(err).Warn("websocket read error")
			}
			return
		}
		_ = lc.conn.SetReadDeadline(time.Now().Add(livePongWait))

		if kind == websocket.BinaryMessage {
			if rec == nil || !rec.Active() {
				lc.sendError("no active recording")
				continue
			}
			// A write past the byte cap ends the recording through its completion.
			_, _ = rec.Write(data)
			continue
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			lc.sendError("invalid frame")
			continue
		}

		ctrl := sess.Controller
		switch frame.Type {
		case FrameSendText:
			if _, err := ctrl.SendText(frame.ID, frame.Text); err != nil {
				lc.sendError(liveErrorText(err))
			}
		case FrameToggleCall:
			if _, err := ctrl.ToggleCall(); err != nil {
				lc.sendError(liveErrorText(err))
			}
		case FrameConnectivity:
			if frame.Online == nil {
				lc.sendError("online is required")
				continue
			}
			ctrl.SetOnline(*frame.Online)
		case FrameRecordStart:
			if rec != nil && rec.Active() {
				lc.sendError("already recording")
				continue
			}
			mediaType, err := recordingMediaType(frame.MediaType)
			if err != nil {
				lc.sendError(err.Error())
				continue
			}
			rec = capture.Start(s.clock, capture.Config{
				MediaType:   mediaType,
				MaxDuration: ctrl.MaxRecording(),
				MaxBytes:    s.maxAudio,
			}, s.completeRecording(lc, ctrl, frame.ID))
			_ = lc.send(LiveFrame{Type: FrameRecording, Recording: &RecordingStatus{
				Active:  true,
				MaxSecs: ctrl.MaxRecording().Seconds(),
			}})
		case FrameRecordStop:
			if rec == nil || rec.Stop() != nil {
				lc.sendError("no active recording")
			}
		default:
			lc.sendError("unknown frame type")
		}
	}
}

// completeRecording submits a finished recording as an audio message.
func (s *Server) completeRecording(lc *liveConn, ctrl *conversation.Controller, id string) capture.CompletionFunc {
	return func(rec capture.Recording, err error) {
		if errors.Is(err, capture.ErrAborted) {
			return
		}
		if err != nil {
			_ = lc.send(LiveFrame{Type: FrameRecording, Recording: &RecordingStatus{}, Error: err.Error()})
			return
		}

		_ = lc.send(LiveFrame{Type: FrameRecording, Recording: &RecordingStatus{
			Duration: rec.Duration,
			Capped:   rec.Capped,
		}})
		if _, err := ctrl.SendAudio(conversation.AudioInput{
			ID:       id,
			DataURI:  rec.DataURI,
			Duration: rec.Duration,
		}); err != nil {
			lc.sendError(liveErrorText(err))
		}
	}
}

func recordingMediaType(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", errors.New("invalid media type")
	}
	return mediaType, nil
}

func liveErrorText(err error) string {
	var rejected *conversation.RejectionError
	if errors.As(err, &rejected) {
		return rejected.Notice.Description
	}
	return err.Error()
}
