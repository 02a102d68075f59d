package repository

import (
	"context"
	"errors"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

// Writes per batch when deleting or updating whole collections.
const batchChunkSize = 400

func userPath(uid string) string { return docstore.Join("users", uid) }

func topicPath(id string) string { return docstore.Join("topics", id) }

func topicMessages(id string) string { return docstore.Join("topics", id, "messages") }

func participants(topicKey string) string {
	return docstore.Join("topicPresence", topicKey, "participants")
}

func participantPath(topicKey, uid string) string {
	return docstore.Join(participants(topicKey), uid)
}

func joinedTopics(uid string) string { return docstore.Join("userTopics", uid, "joinedTopics") }

func joinedTopicPath(uid, topicKey string) string {
	return docstore.Join(joinedTopics(uid), topicKey)
}

func statusPath(uid string) string { return docstore.Join("status", uid) }

func friendRequestPath(id string) string { return docstore.Join("friendRequests", id) }

func friendList(uid string) string { return docstore.Join("friends", uid, "friendList") }

func friendPath(uid, friendID string) string { return docstore.Join(friendList(uid), friendID) }

func chatPath(id string) string { return docstore.Join("chats", id) }

func chatMessages(id string) string { return docstore.Join("chats", id, "messages") }

func typingPath(chatID, uid string) string { return docstore.Join("chats", chatID, "typing", uid) }

func mapErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func toCursor(after *repository.PageCursor) *docstore.Cursor {
	if after == nil {
		return nil
	}
	return &docstore.Cursor{Value: after.At, ID: after.ID}
}

func messageFields(msg *entity.Message) docstore.Fields {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return docstore.Fields{
		"senderId":  msg.SenderID,
		"text":      msg.Text,
		"imageUrl":  msg.ImageURL,
		"timestamp": msg.Timestamp,
		"status":    string(msg.Status),
		"readBy":    readBy,
	}
}

func messageFromDoc(doc *docstore.Document) *entity.Message {
	return &entity.Message{
		ID:        doc.ID,
		SenderID:  doc.String("senderId"),
		Text:      doc.String("text"),
		ImageURL:  doc.String("imageUrl"),
		Timestamp: doc.Time("timestamp"),
		Status:    entity.MessageStatus(doc.String("status")),
		ReadBy:    doc.Strings("readBy"),
	}
}

func messagesFromDocs(docs []*docstore.Document) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		msgs = append(msgs, messageFromDoc(doc))
	}
	return msgs
}

// messageLog is the message collection shared by one-to-one chats and topic
// group chats.
type messageLog struct {
	store docstore.Store
}

func (l messageLog) add(ctx context.Context, collection string, msg *entity.Message) error {
	if msg.ID == "" {
		msg.ID = l.store.NewID()
	}
	return l.store.Set(ctx, docstore.Join(collection, msg.ID), messageFields(msg), false)
}

func (l messageLog) page(limit int, after *repository.PageCursor, collection string) docstore.Query {
	return docstore.Query{
		Collection: collection,
		OrderBy:    "timestamp",
		Direction:  docstore.Desc,
		Limit:      limit,
		StartAfter: toCursor(after),
	}
}

func (l messageLog) list(ctx context.Context, collection string, limit int, after *repository.PageCursor) ([]*entity.Message, error) {
	docs, err := l.store.Query(ctx, l.page(limit, after, collection))
	if err != nil {
		return nil, err
	}
	return messagesFromDocs(docs), nil
}

func (l messageLog) watch(ctx context.Context, collection string, limit int, fn func([]*entity.Message, error)) repository.Unsubscribe {
	unsub := l.store.WatchQuery(ctx, l.page(limit, nil, collection), func(docs []*docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(messagesFromDocs(docs), nil)
	})
	return repository.Unsubscribe(unsub)
}

// deleteAll removes every document of a collection in chunked batches.
func (l messageLog) deleteAll(ctx context.Context, collection string) (int, error) {
	deleted := 0
	for {
		docs, err := l.store.Query(ctx, docstore.Query{Collection: collection, Limit: batchChunkSize})
		if err != nil {
			return deleted, err
		}
		if len(docs) == 0 {
			return deleted, nil
		}

		batch := l.store.Batch()
		for _, doc := range docs {
			batch.Delete(doc.Path)
		}
		if err := batch.Commit(ctx); err != nil {
			return deleted, err
		}
		deleted += len(docs)

		if len(docs) < batchChunkSize {
			return deleted, nil
		}
	}
}
