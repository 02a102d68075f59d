package repository

import (
	"context"
	"errors"
	"time"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type participantRepository struct {
	store docstore.Store
}

func NewParticipantRepository(store docstore.Store) repository.ParticipantRepository {
	return &participantRepository{
		store: store,
	}
}

func (r *participantRepository) Join(ctx context.Context, p *entity.Participant, originalTopicName string) (bool, error) {
	var created bool
	var joinedAt time.Time

	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		created = false
		joinedAt = p.LastActive

		doc, err := tx.Get(participantPath(p.TopicKey, p.UserID))
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			created = true
		case err != nil:
			return err
		default:
			if t := doc.Time("joinedAt"); !t.IsZero() {
				joinedAt = t
			}
		}

		if created {
			err = tx.Set(participantPath(p.TopicKey, p.UserID), docstore.Fields{
				"userId":     p.UserID,
				"name":       p.Name,
				"joinedAt":   joinedAt,
				"lastActive": p.LastActive,
			}, false)
		} else {
			err = tx.Update(participantPath(p.TopicKey, p.UserID), docstore.Fields{
				"name":       p.Name,
				"lastActive": p.LastActive,
			})
		}
		if err != nil {
			return err
		}

		return tx.Set(joinedTopicPath(p.UserID, p.TopicKey), docstore.Fields{
			"joinedAt":          joinedAt,
			"originalTopicName": originalTopicName,
		}, true)
	})
	if err != nil {
		return false, err
	}

	p.JoinedAt = joinedAt
	return created, nil
}

func (r *participantRepository) Touch(ctx context.Context, topicKey, uid string, at time.Time) error {
	err := r.store.Update(ctx, participantPath(topicKey, uid), docstore.Fields{"lastActive": at})
	return mapErr(err)
}

func (r *participantRepository) Get(ctx context.Context, topicKey, uid string) (*entity.Participant, error) {
	doc, err := r.store.Get(ctx, participantPath(topicKey, uid))
	if err != nil {
		return nil, mapErr(err)
	}
	return participantFromDoc(topicKey, doc), nil
}

func (r *participantRepository) Leave(ctx context.Context, topicKey, uid string) error {
	return r.store.Batch().
		Delete(participantPath(topicKey, uid)).
		Delete(joinedTopicPath(uid, topicKey)).
		Commit(ctx)
}

func (r *participantRepository) ListActiveSince(ctx context.Context, topicKey string, since time.Time) ([]*entity.Participant, error) {
	q := docstore.Query{Collection: participants(topicKey)}
	if !since.IsZero() {
		q.Filters = []docstore.Filter{docstore.Where("lastActive", docstore.OpGt, since)}
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return participantsFromDocs(topicKey, docs), nil
}

func (r *participantRepository) Watch(ctx context.Context, topicKey string, fn func([]*entity.Participant, error)) repository.Unsubscribe {
	q := docstore.Query{Collection: participants(topicKey)}
	unsub := r.store.WatchQuery(ctx, q, func(docs []*docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(participantsFromDocs(topicKey, docs), nil)
	})
	return repository.Unsubscribe(unsub)
}

func (r *participantRepository) ListJoinedTopics(ctx context.Context, uid string) ([]*entity.JoinedTopic, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: joinedTopics(uid)})
	if err != nil {
		return nil, err
	}

	topics := make([]*entity.JoinedTopic, 0, len(docs))
	for _, doc := range docs {
		topics = append(topics, &entity.JoinedTopic{
			TopicKey:          doc.ID,
			JoinedAt:          doc.Time("joinedAt"),
			OriginalTopicName: doc.String("originalTopicName"),
		})
	}
	return topics, nil
}

func (r *participantRepository) LeaveAll(ctx context.Context, uid string) (int, error) {
	joined, err := r.ListJoinedTopics(ctx, uid)
	if err != nil {
		return 0, err
	}
	if len(joined) == 0 {
		return 0, nil
	}

	batch := r.store.Batch()
	for _, jt := range joined {
		batch.Delete(participantPath(jt.TopicKey, uid))
		batch.Delete(joinedTopicPath(uid, jt.TopicKey))
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(joined), nil
}

func participantFromDoc(topicKey string, doc *docstore.Document) *entity.Participant {
	uid := doc.String("userId")
	if uid == "" {
		uid = doc.ID
	}
	return &entity.Participant{
		TopicKey:   topicKey,
		UserID:     uid,
		Name:       doc.String("name"),
		JoinedAt:   doc.Time("joinedAt"),
		LastActive: doc.Time("lastActive"),
	}
}

func participantsFromDocs(topicKey string, docs []*docstore.Document) []*entity.Participant {
	out := make([]*entity.Participant, 0, len(docs))
	for _, doc := range docs {
		out = append(out, participantFromDoc(topicKey, doc))
	}
	return out
}
