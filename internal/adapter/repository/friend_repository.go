package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type friendRepository struct {
	store docstore.Store
}

func NewFriendRepository(store docstore.Store) repository.FriendRepository {
	return &friendRepository{
		store: store,
	}
}

func (r *friendRepository) CreateRequest(ctx context.Context, req *entity.FriendRequest) error {
	req.ID = entity.FriendRequestID(req.From, req.To)
	path := friendRequestPath(req.ID)

	return r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get(path)
		if err == nil {
			return repository.ErrAlreadyExists
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}

		fields := docstore.Fields{
			"from":      req.From,
			"to":        req.To,
			"status":    string(req.Status),
			"createdAt": req.CreatedAt,
			"updatedAt": req.UpdatedAt,
		}
		if req.Topic != "" {
			fields["topic"] = req.Topic
		}
		return tx.Set(path, fields, false)
	})
}

func (r *friendRepository) GetRequest(ctx context.Context, id string) (*entity.FriendRequest, error) {
	doc, err := r.store.Get(ctx, friendRequestPath(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return requestFromDoc(doc), nil
}

func (r *friendRepository) AcceptRequest(ctx context.Context, id string, check repository.RequestCheck, at time.Time) (*entity.FriendRequest, error) {
	var accepted *entity.FriendRequest

	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(friendRequestPath(id))
		if err != nil {
			return mapErr(err)
		}
		req := requestFromDoc(doc)
		if err := check(req); err != nil {
			return err
		}

		chatID := entity.ChannelKey(req.From, req.To)
		_, chatErr := tx.Get(chatPath(chatID))
		if chatErr != nil && !errors.Is(chatErr, docstore.ErrNotFound) {
			return chatErr
		}

		if err := tx.Update(friendRequestPath(id), docstore.Fields{
			"status":    string(entity.RequestAccepted),
			"updatedAt": at,
		}); err != nil {
			return err
		}

		edge := docstore.Fields{"since": at}
		if req.Topic != "" {
			edge["topic"] = req.Topic
		}
		if err := tx.Set(friendPath(req.From, req.To), edge, false); err != nil {
			return err
		}
		if err := tx.Set(friendPath(req.To, req.From), edge, false); err != nil {
			return err
		}

		users := []string{req.From, req.To}
		sort.Strings(users)
		chat := docstore.Fields{"users": users}
		if chatErr != nil {
			chat["createdAt"] = at
		}
		if err := tx.Set(chatPath(chatID), chat, true); err != nil {
			return err
		}

		req.Status = entity.RequestAccepted
		req.UpdatedAt = at
		accepted = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

func (r *friendRepository) DeclineRequest(ctx context.Context, id string, check repository.RequestCheck, at time.Time) (*entity.FriendRequest, error) {
	var declined *entity.FriendRequest

	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(friendRequestPath(id))
		if err != nil {
			return mapErr(err)
		}
		req := requestFromDoc(doc)
		if err := check(req); err != nil {
			return err
		}

		if err := tx.Update(friendRequestPath(id), docstore.Fields{
			"status":    string(entity.RequestDeclined),
			"updatedAt": at,
		}); err != nil {
			return err
		}

		req.Status = entity.RequestDeclined
		req.UpdatedAt = at
		declined = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return declined, nil
}

func (r *friendRepository) ListIncoming(ctx context.Context, uid string) ([]*entity.FriendRequest, error) {
	return r.listPending(ctx, "to", uid)
}

func (r *friendRepository) ListOutgoing(ctx context.Context, uid string) ([]*entity.FriendRequest, error) {
	return r.listPending(ctx, "from", uid)
}

func (r *friendRepository) listPending(ctx context.Context, field, uid string) ([]*entity.FriendRequest, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: "friendRequests",
		Filters: []docstore.Filter{
			docstore.Where(field, docstore.OpEq, uid),
			docstore.Where("status", docstore.OpEq, string(entity.RequestPending)),
		},
	})
	if err != nil {
		return nil, err
	}

	reqs := make([]*entity.FriendRequest, 0, len(docs))
	for _, doc := range docs {
		reqs = append(reqs, requestFromDoc(doc))
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func (r *friendRepository) RemoveFriendship(ctx context.Context, uid, friendID string) error {
	return r.store.Batch().
		Delete(friendPath(uid, friendID)).
		Delete(friendPath(friendID, uid)).
		Delete(friendRequestPath(entity.FriendRequestID(uid, friendID))).
		Delete(friendRequestPath(entity.FriendRequestID(friendID, uid))).
		Commit(ctx)
}

func (r *friendRepository) ListFriends(ctx context.Context, uid string) ([]*entity.Friend, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: friendList(uid)})
	if err != nil {
		return nil, err
	}
	return friendsFromDocs(uid, docs), nil
}

func (r *friendRepository) IsFriend(ctx context.Context, uid, friendID string) (bool, error) {
	_, err := r.store.Get(ctx, friendPath(uid, friendID))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *friendRepository) WatchFriends(ctx context.Context, uid string, fn func([]*entity.Friend, error)) repository.Unsubscribe {
	unsub := r.store.WatchQuery(ctx, docstore.Query{Collection: friendList(uid)}, func(docs []*docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(friendsFromDocs(uid, docs), nil)
	})
	return repository.Unsubscribe(unsub)
}

func requestFromDoc(doc *docstore.Document) *entity.FriendRequest {
	return &entity.FriendRequest{
		ID:        doc.ID,
		From:      doc.String("from"),
		To:        doc.String("to"),
		Status:    entity.RequestStatus(doc.String("status")),
		Topic:     doc.String("topic"),
		CreatedAt: doc.Time("createdAt"),
		UpdatedAt: doc.Time("updatedAt"),
	}
}

func friendsFromDocs(uid string, docs []*docstore.Document) []*entity.Friend {
	friends := make([]*entity.Friend, 0, len(docs))
	for _, doc := range docs {
		friends = append(friends, &entity.Friend{
			UserID:   uid,
			FriendID: doc.ID,
			Since:    doc.Time("since"),
			Topic:    doc.String("topic"),
			ChatID:   entity.ChannelKey(uid, doc.ID),
		})
	}
	return friends
}
