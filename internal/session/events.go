package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// EventType enumerates the live-UI notifications a session emits.
type EventType string

const (
	EventQueryStarted  EventType = "query_started"
	EventThinking      EventType = "thinking"
	EventToolExecuted  EventType = "tool_executed"
	EventQueryComplete EventType = "query_complete"
	EventMessageAdded  EventType = "message_added"
)

// Event is one fire-and-forget notification for live UIs. Delivery is
// best-effort, at-most-once.
type Event struct {
	ID        string              `json:"id"`
	SessionID string              `json:"session_id"`
	Type      EventType           `json:"type"`
	At        time.Time           `json:"at"`
	Text      string              `json:"text,omitempty"`
	Result    *domain.QueryResult `json:"result,omitempty"`
	Message   *domain.Message     `json:"message,omitempty"`
}

// PubSubPublisher abstracts the pub/sub publish operation.
type PubSubPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ChannelFunc maps a session id to its pub/sub channel name.
type ChannelFunc func(sessionID string) string

// EventBus serializes event publication through a single worker so emission
// never blocks query execution while per-session ordering is preserved. With
// a nil publisher every emit is a no-op.
type EventBus struct {
	pub     PubSubPublisher
	channel ChannelFunc
	ch      chan Event
	done    chan struct{}
}

// NewEventBus starts the publish worker. pub may be nil to disable events.
func NewEventBus(pub PubSubPublisher, channel ChannelFunc) *EventBus {
	b := &EventBus{
		pub:     pub,
		channel: channel,
		ch:      make(chan Event, 256),
		done:    make(chan struct{}),
	}
	if pub != nil {
		go b.run()
	}
	return b
}

// Emit queues an event for publication. When the queue is full the event is
// dropped rather than blocking the caller.
func (b *EventBus) Emit(event Event) {
	if b.pub == nil {
		return
	}

	event.ID = uuid.NewString()
	event.At = time.Now()

	select {
	case b.ch <- event:
	default:
		log.Debug().Str("session_id", event.SessionID).Str("type", string(event.Type)).
			Msg("session.EventBus.Emit: queue full, event dropped")
	}
}

// Close stops the publish worker. Queued events are discarded.
func (b *EventBus) Close() {
	close(b.done)
}

func (b *EventBus) run() {
	for {
		select {
		case <-b.done:
			return
		case event := <-b.ch:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Str("session_id", event.SessionID).
					Msg("session.EventBus: encode event")
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if pubErr := b.pub.Publish(ctx, b.channel(event.SessionID), payload); pubErr != nil {
				log.Error().Err(pubErr).Str("session_id", event.SessionID).
					Msg("session.EventBus: publish event")
			}
			cancel()
		}
	}
}
