package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/types"
)

const (
	// channelPrefix namespaces per-session event channels.
	channelPrefix  = "voicechat:session:"
	defaultQueue   = 256
	publishTimeout = 2 * time.Second
)

// Publisher is the subset of Client used by EventPublisher.
type Publisher interface {
	Publish(ctx context.Context, channel string, message string) error
}

// EventPublisher forwards session events to Redis pub/sub. Publish only
// enqueues; Run drains the queue.
type EventPublisher struct {
	client Publisher
	queue  chan types.Event
	logger *logrus.Logger
}

// NewEventPublisher creates an EventPublisher with the given queue size.
func NewEventPublisher(client Publisher, queueSize int, logger *logrus.Logger) *EventPublisher {
	if queueSize <= 0 {
		queueSize = defaultQueue
	}
	return &EventPublisher{
		client: client,
		queue:  make(chan types.Event, queueSize),
		logger: logger,
	}
}

// ChannelFor returns the pub/sub channel of a session.
func ChannelFor(sessionID string) string {
	return channelPrefix + sessionID
}

// Publish enqueues event, dropping it when the queue is full.
func (p *EventPublisher) Publish(event types.Event) {
	select {
	case p.queue <- event:
	default:
		p.logger.WithFields(logrus.Fields{
			"session_id": event.SessionID,
			"event":      event.Type,
		}).Warn("redis event queue full, event dropped")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is left.
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case event := <-p.queue:
			p.send(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-p.queue:
					p.send(event)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) send(event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, ChannelFor(event.SessionID), string(data)); err != nil {
		p.logger.WithError(err).WithField("session_id", event.SessionID).Warn("failed to publish event to redis")
	}
}
