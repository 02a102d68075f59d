package events

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/infrastructure/metrics"
	"topicmeet/pkg/logger"
)

const (
	FriendRequestSent     = "friend.request.sent"
	FriendRequestAccepted = "friend.request.accepted"
	FriendRequestDeclined = "friend.request.declined"
	FriendRemoved         = "friend.removed"
	TopicCreated          = "topic.created"
	TopicDeleted          = "topic.deleted"
	TopicJoined           = "topic.joined"
	UserSignedUp          = "user.signed_up"
	UserSignedOut         = "user.signed_out"
)

type Event struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	UserID        string `json:"user_id,omitempty"`
	Payload       any    `json:"payload,omitempty"`
}

// Emitter wraps events in the envelope and publishes them with the event
// type as routing key. Publish failures are logged and counted, never
// returned: events are a side channel.
type Emitter struct {
	publisher Publisher
	service   string
	clock     clockwork.Clock
}

func NewEmitter(publisher Publisher, service string, clock clockwork.Clock) *Emitter {
	return &Emitter{
		publisher: publisher,
		service:   service,
		clock:     clock,
	}
}

func (e *Emitter) Emit(ctx context.Context, eventType, userID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	event := Event{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.clock.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, eventType, event); err != nil {
		metrics.IncAMQPPublishError()
		logger.Warn("event publish failed: type=%s err=%v", eventType, err)
	}
}
