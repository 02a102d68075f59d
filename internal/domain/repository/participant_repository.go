package repository

import (
	"context"
	"time"

	"topicmeet/internal/domain/entity"
)

// ParticipantRepository stores topic membership: one record per (topic, user)
// plus the per-user index of joined topics.
type ParticipantRepository interface {
	// Join creates the record with JoinedAt = LastActive = p.LastActive or,
	// when one exists, refreshes its LastActive and name. The joined-topic
	// index entry is written in the same transaction.
	Join(ctx context.Context, p *entity.Participant, originalTopicName string) (created bool, err error)
	// Touch refreshes LastActive and returns ErrNotFound when the record is gone.
	Touch(ctx context.Context, topicKey, uid string, at time.Time) error
	Get(ctx context.Context, topicKey, uid string) (*entity.Participant, error)
	Leave(ctx context.Context, topicKey, uid string) error
	// ListActiveSince returns records whose LastActive is after since.
	ListActiveSince(ctx context.Context, topicKey string, since time.Time) ([]*entity.Participant, error)
	Watch(ctx context.Context, topicKey string, fn func([]*entity.Participant, error)) Unsubscribe

	ListJoinedTopics(ctx context.Context, uid string) ([]*entity.JoinedTopic, error)
	// LeaveAll removes every record and index entry of the user in one batch.
	LeaveAll(ctx context.Context, uid string) (int, error)
}
