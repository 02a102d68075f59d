package repository

import (
	"context"
	"time"

	"topicmeet/internal/domain/entity"
)

// PresenceRecord is the raw state of one presence scope.
type PresenceRecord struct {
	Exists     bool
	Online     bool
	LastActive time.Time
}

type PresenceRepository interface {
	// Touch writes at as the scope's last-active time.
	Touch(ctx context.Context, scope entity.Scope, at time.Time) error
	SetOnline(ctx context.Context, uid string, online bool, at time.Time) error
	GetStatus(ctx context.Context, uid string) (*PresenceRecord, error)
	Watch(ctx context.Context, scope entity.Scope, fn func(*PresenceRecord, error)) Unsubscribe
}
