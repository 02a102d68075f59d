package repository

import (
	"context"
	"time"

	"topicmeet/internal/domain/entity"
)

type ChatRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	ListByUser(ctx context.Context, uid string) ([]*entity.Chat, error)

	// Message methods
	AddMessage(ctx context.Context, chatID string, msg *entity.Message) error
	ListMessages(ctx context.Context, chatID string, limit int, after *PageCursor) ([]*entity.Message, error)
	WatchMessages(ctx context.Context, chatID string, limit int, fn func([]*entity.Message, error)) Unsubscribe
	// MarkRead adds readerID to readBy and sets status seen on every message
	// from senderID that readerID has not read yet, in one batch.
	MarkRead(ctx context.Context, chatID, readerID, senderID string) (int, error)

	SetTyping(ctx context.Context, chatID, uid string, typing bool, at time.Time) error
	WatchTyping(ctx context.Context, chatID, uid string, fn func(*entity.Typing, error)) Unsubscribe
}
