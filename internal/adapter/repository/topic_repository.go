package repository

import (
	"context"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type topicRepository struct {
	store    docstore.Store
	messages messageLog
}

func NewTopicRepository(store docstore.Store) repository.TopicRepository {
	return &topicRepository{
		store:    store,
		messages: messageLog{store: store},
	}
}

func (r *topicRepository) Create(ctx context.Context, topic *entity.Topic) error {
	if topic.ID == "" {
		topic.ID = r.store.NewID()
	}

	hiddenBy := topic.HiddenBy
	if hiddenBy == nil {
		hiddenBy = []string{}
	}
	fields := docstore.Fields{
		"title":     topic.Title,
		"question":  topic.Question,
		"createdAt": topic.CreatedAt,
		"createdBy": topic.CreatedBy,
		"hiddenBy":  hiddenBy,
	}
	if topic.RadiusKm != nil {
		fields["radiusKm"] = *topic.RadiusKm
	}
	if topic.HasLocation() {
		fields["latitude"] = *topic.Latitude
		fields["longitude"] = *topic.Longitude
	}

	return r.store.Set(ctx, topicPath(topic.ID), fields, false)
}

func (r *topicRepository) GetByID(ctx context.Context, id string) (*entity.Topic, error) {
	doc, err := r.store.Get(ctx, topicPath(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return topicFromDoc(doc), nil
}

func (r *topicRepository) ListRecent(ctx context.Context, limit int, after *repository.PageCursor) ([]*entity.Topic, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: "topics",
		OrderBy:    "createdAt",
		Direction:  docstore.Desc,
		Limit:      limit,
		StartAfter: toCursor(after),
	})
	if err != nil {
		return nil, err
	}

	topics := make([]*entity.Topic, 0, len(docs))
	for _, doc := range docs {
		topics = append(topics, topicFromDoc(doc))
	}
	return topics, nil
}

func (r *topicRepository) Hide(ctx context.Context, id, uid string) error {
	err := r.store.Update(ctx, topicPath(id), docstore.Fields{
		"hiddenBy": docstore.ArrayUnion(uid),
	})
	return mapErr(err)
}

// Delete removes messages before the topic itself so an interrupted delete
// can simply be retried.
func (r *topicRepository) Delete(ctx context.Context, id string) (int, error) {
	deleted, err := r.messages.deleteAll(ctx, topicMessages(id))
	if err != nil {
		return deleted, err
	}
	return deleted, mapErr(r.store.Delete(ctx, topicPath(id)))
}

func (r *topicRepository) AddMessage(ctx context.Context, topicID string, msg *entity.Message) error {
	return r.messages.add(ctx, topicMessages(topicID), msg)
}

func (r *topicRepository) ListMessages(ctx context.Context, topicID string, limit int, after *repository.PageCursor) ([]*entity.Message, error) {
	return r.messages.list(ctx, topicMessages(topicID), limit, after)
}

func (r *topicRepository) WatchMessages(ctx context.Context, topicID string, limit int, fn func([]*entity.Message, error)) repository.Unsubscribe {
	return r.messages.watch(ctx, topicMessages(topicID), limit, fn)
}

func topicFromDoc(doc *docstore.Document) *entity.Topic {
	t := &entity.Topic{
		ID:        doc.ID,
		Title:     doc.String("title"),
		Question:  doc.String("question"),
		CreatedAt: doc.Time("createdAt"),
		CreatedBy: doc.String("createdBy"),
		HiddenBy:  doc.Strings("hiddenBy"),
	}
	if v, ok := doc.Float("radiusKm"); ok {
		t.RadiusKm = &v
	}
	lat, okLat := doc.Float("latitude")
	lng, okLng := doc.Float("longitude")
	if okLat && okLng {
		t.Latitude = &lat
		t.Longitude = &lng
	}
	return t
}
