package repository

import (
	"context"
	"errors"
	"time"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type presenceRepository struct {
	store docstore.Store
}

func NewPresenceRepository(store docstore.Store) repository.PresenceRepository {
	return &presenceRepository{
		store: store,
	}
}

// Touch only moves the timestamp. The status flag is owned by SetOnline so
// a late tick cannot flip a user back online after they left.
func (r *presenceRepository) Touch(ctx context.Context, scope entity.Scope, at time.Time) error {
	if scope.Kind == entity.ScopeParticipant {
		err := r.store.Update(ctx, participantPath(scope.TopicKey, scope.UserID), docstore.Fields{"lastActive": at})
		return mapErr(err)
	}
	return r.store.Set(ctx, statusPath(scope.UserID), docstore.Fields{"lastSeen": at}, true)
}

func (r *presenceRepository) SetOnline(ctx context.Context, uid string, online bool, at time.Time) error {
	return r.store.Set(ctx, statusPath(uid), docstore.Fields{
		"online":   online,
		"lastSeen": at,
	}, true)
}

func (r *presenceRepository) GetStatus(ctx context.Context, uid string) (*repository.PresenceRecord, error) {
	doc, err := r.store.Get(ctx, statusPath(uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return &repository.PresenceRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return statusRecord(doc), nil
}

func (r *presenceRepository) Watch(ctx context.Context, scope entity.Scope, fn func(*repository.PresenceRecord, error)) repository.Unsubscribe {
	path := statusPath(scope.UserID)
	if scope.Kind == entity.ScopeParticipant {
		path = participantPath(scope.TopicKey, scope.UserID)
	}

	unsub := r.store.WatchDocument(ctx, path, func(doc *docstore.Document, err error) {
		switch {
		case err != nil:
			fn(nil, err)
		case doc == nil:
			fn(&repository.PresenceRecord{}, nil)
		case scope.Kind == entity.ScopeParticipant:
			// Participant records carry no flag; presence of the record is it.
			fn(&repository.PresenceRecord{Exists: true, Online: true, LastActive: doc.Time("lastActive")}, nil)
		default:
			fn(statusRecord(doc), nil)
		}
	})
	return repository.Unsubscribe(unsub)
}

func statusRecord(doc *docstore.Document) *repository.PresenceRecord {
	return &repository.PresenceRecord{
		Exists:     true,
		Online:     doc.Bool("online"),
		LastActive: doc.Time("lastSeen"),
	}
}
