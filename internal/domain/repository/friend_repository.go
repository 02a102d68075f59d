package repository

import (
	"context"
	"time"

	"topicmeet/internal/domain/entity"
)

// RequestCheck validates a request read inside a transaction before it is
// changed. A non-nil error aborts the transaction and is returned as is.
type RequestCheck func(req *entity.FriendRequest) error

type FriendRepository interface {
	// CreateRequest fails with ErrAlreadyExists when the directed key is taken.
	CreateRequest(ctx context.Context, req *entity.FriendRequest) error
	GetRequest(ctx context.Context, id string) (*entity.FriendRequest, error)
	// AcceptRequest marks the request accepted and writes both friendship
	// edges and the chat channel atomically.
	AcceptRequest(ctx context.Context, id string, check RequestCheck, at time.Time) (*entity.FriendRequest, error)
	DeclineRequest(ctx context.Context, id string, check RequestCheck, at time.Time) (*entity.FriendRequest, error)
	ListIncoming(ctx context.Context, uid string) ([]*entity.FriendRequest, error)
	ListOutgoing(ctx context.Context, uid string) ([]*entity.FriendRequest, error)

	// RemoveFriendship deletes both edges and the pair's request documents,
	// so either user can send a new request. The chat channel is left alone.
	RemoveFriendship(ctx context.Context, uid, friendID string) error
	ListFriends(ctx context.Context, uid string) ([]*entity.Friend, error)
	IsFriend(ctx context.Context, uid, friendID string) (bool, error)
	WatchFriends(ctx context.Context, uid string, fn func([]*entity.Friend, error)) Unsubscribe
}
