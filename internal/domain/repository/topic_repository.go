package repository

import (
	"context"

	"topicmeet/internal/domain/entity"
)

type TopicRepository interface {
	Create(ctx context.Context, topic *entity.Topic) error
	GetByID(ctx context.Context, id string) (*entity.Topic, error)
	// ListRecent returns topics newest first.
	ListRecent(ctx context.Context, limit int, after *PageCursor) ([]*entity.Topic, error)
	Hide(ctx context.Context, id, uid string) error
	// Delete removes the topic and its group-chat messages. Returns the
	// number of messages removed.
	Delete(ctx context.Context, id string) (int, error)

	AddMessage(ctx context.Context, topicID string, msg *entity.Message) error
	ListMessages(ctx context.Context, topicID string, limit int, after *PageCursor) ([]*entity.Message, error)
	WatchMessages(ctx context.Context, topicID string, limit int, fn func([]*entity.Message, error)) Unsubscribe
}
