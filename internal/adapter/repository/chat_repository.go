package repository

import (
	"context"
	"time"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type chatRepository struct {
	store    docstore.Store
	messages messageLog
}

func NewChatRepository(store docstore.Store) repository.ChatRepository {
	return &chatRepository{
		store:    store,
		messages: messageLog{store: store},
	}
}

func (r *chatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	doc, err := r.store.Get(ctx, chatPath(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return chatFromDoc(doc), nil
}

func (r *chatRepository) ListByUser(ctx context.Context, uid string) ([]*entity.Chat, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: "chats",
		Filters:    []docstore.Filter{docstore.Where("users", docstore.OpArrayContains, uid)},
	})
	if err != nil {
		return nil, err
	}

	chats := make([]*entity.Chat, 0, len(docs))
	for _, doc := range docs {
		chats = append(chats, chatFromDoc(doc))
	}
	return chats, nil
}

func (r *chatRepository) AddMessage(ctx context.Context, chatID string, msg *entity.Message) error {
	return r.messages.add(ctx, chatMessages(chatID), msg)
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID string, limit int, after *repository.PageCursor) ([]*entity.Message, error) {
	return r.messages.list(ctx, chatMessages(chatID), limit, after)
}

func (r *chatRepository) WatchMessages(ctx context.Context, chatID string, limit int, fn func([]*entity.Message, error)) repository.Unsubscribe {
	return r.messages.watch(ctx, chatMessages(chatID), limit, fn)
}

func (r *chatRepository) MarkRead(ctx context.Context, chatID, readerID, senderID string) (int, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: chatMessages(chatID),
		Filters:    []docstore.Filter{docstore.Where("senderId", docstore.OpEq, senderID)},
	})
	if err != nil {
		return 0, err
	}

	marked := 0
	batch := r.store.Batch()
	for _, doc := range docs {
		if messageFromDoc(doc).IsReadBy(readerID) {
			continue
		}
		batch.Update(doc.Path, docstore.Fields{
			"readBy": docstore.ArrayUnion(readerID),
			"status": string(entity.MessageSeen),
		})

		if batch.Len() == batchChunkSize {
			if err := batch.Commit(ctx); err != nil {
				return marked, err
			}
			marked += batchChunkSize
			batch = r.store.Batch()
		}
	}

	if n := batch.Len(); n > 0 {
		if err := batch.Commit(ctx); err != nil {
			return marked, err
		}
		marked += n
	}
	return marked, nil
}

func (r *chatRepository) SetTyping(ctx context.Context, chatID, uid string, typing bool, at time.Time) error {
	return r.store.Set(ctx, typingPath(chatID, uid), docstore.Fields{
		"typing":    typing,
		"updatedAt": at,
	}, false)
}

func (r *chatRepository) WatchTyping(ctx context.Context, chatID, uid string, fn func(*entity.Typing, error)) repository.Unsubscribe {
	unsub := r.store.WatchDocument(ctx, typingPath(chatID, uid), func(doc *docstore.Document, err error) {
		switch {
		case err != nil:
			fn(nil, err)
		case doc == nil:
			fn(&entity.Typing{UserID: uid}, nil)
		default:
			fn(&entity.Typing{
				UserID:    uid,
				Typing:    doc.Bool("typing"),
				UpdatedAt: doc.Time("updatedAt"),
			}, nil)
		}
	})
	return repository.Unsubscribe(unsub)
}

func chatFromDoc(doc *docstore.Document) *entity.Chat {
	return &entity.Chat{
		ID:        doc.ID,
		Users:     doc.Strings("users"),
		CreatedAt: doc.Time("createdAt"),
	}
}
