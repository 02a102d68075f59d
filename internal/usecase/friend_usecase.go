package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/events"
	"topicmeet/internal/infrastructure/metrics"
	"topicmeet/internal/infrastructure/ratelimit"
	"topicmeet/internal/infrastructure/telemetry"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

const profileLookupConcurrency = 8

type FriendUseCase struct {
	friendRepo  repository.FriendRepository
	userRepo    repository.UserRepository
	rateLimiter *ratelimit.RateLimiter
	emitter     *events.Emitter
	clock       clockwork.Clock
}

func NewFriendUseCase(
	friendRepo repository.FriendRepository,
	userRepo repository.UserRepository,
	rateLimiter *ratelimit.RateLimiter,
	emitter *events.Emitter,
	clock clockwork.Clock,
) *FriendUseCase {
	return &FriendUseCase{
		friendRepo:  friendRepo,
		userRepo:    userRepo,
		rateLimiter: rateLimiter,
		emitter:     emitter,
		clock:       clock,
	}
}

// ChatRequestResult is either an open chat (already friends) or the friend
// request that was sent instead.
type ChatRequestResult struct {
	ChatID  string                `json:"chat_id,omitempty"`
	Request *entity.FriendRequest `json:"request,omitempty"`
}

func (uc *FriendUseCase) SendRequest(ctx context.Context, from, to, originTopic string) (req *entity.FriendRequest, err error) {
	ctx, span := telemetry.StartSpan(ctx, "friend.send_request",
		attribute.String("from", from), attribute.String("to", to))
	defer func() {
		metrics.IncWorkflow("friend_request_send", err)
		telemetry.End(span, err)
	}()

	to = strings.TrimSpace(to)
	if to == "" {
		return nil, apperrors.BadRequest("Recipient is required", nil)
	}
	if from == to {
		return nil, apperrors.BadRequest("You cannot send a friend request to yourself", nil)
	}
	if uc.rateLimiter != nil {
		if ok, _ := uc.rateLimiter.Allow(from, ratelimit.ActionFriendRequest); !ok {
			return nil, apperrors.TooManyRequests("Too many friend requests. Please try again later")
		}
	}

	if _, err := uc.userRepo.GetByID(ctx, to); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User", err)
		}
		return nil, apperrors.Internal("Failed to load recipient", err)
	}

	friends, err := uc.friendRepo.IsFriend(ctx, from, to)
	if err != nil {
		return nil, apperrors.Internal("Failed to check friendship", err)
	}
	if friends {
		return nil, apperrors.AlreadyExists("Friendship")
	}

	now := uc.clock.Now()
	req = &entity.FriendRequest{
		From:      from,
		To:        to,
		Status:    entity.RequestPending,
		Topic:     strings.TrimSpace(originTopic),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.friendRepo.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, apperrors.AlreadyExists("Friend request")
		}
		return nil, apperrors.Internal("Failed to send friend request", err)
	}

	uc.emitter.Emit(ctx, events.FriendRequestSent, from, req)
	return req, nil
}

// recipientPending is the transactional check shared by accept and decline:
// only the addressee may act, and only on a pending request.
func recipientPending(uid string) repository.RequestCheck {
	return func(req *entity.FriendRequest) error {
		if req.To != uid {
			return apperrors.Unauthorized("Only the recipient can respond to this friend request", nil)
		}
		if req.Status != entity.RequestPending {
			return apperrors.Conflict("Friend request is no longer pending")
		}
		return nil
	}
}

// AcceptRequest flips the request to accepted and creates both friendship
// edges and the chat channel in one transaction.
func (uc *FriendUseCase) AcceptRequest(ctx context.Context, requestID, uid string) (req *entity.FriendRequest, err error) {
	ctx, span := telemetry.StartSpan(ctx, "friend.accept_request",
		attribute.String("request_id", requestID), attribute.String("uid", uid))
	defer func() {
		metrics.IncWorkflow("friend_request_accept", err)
		telemetry.End(span, err)
	}()

	req, err = uc.friendRepo.AcceptRequest(ctx, requestID, recipientPending(uid), uc.clock.Now())
	if err != nil {
		return nil, requestError(err, "Failed to accept friend request")
	}

	uc.emitter.Emit(ctx, events.FriendRequestAccepted, uid, map[string]string{
		"request_id": req.ID,
		"from":       req.From,
		"to":         req.To,
		"chat_id":    entity.ChannelKey(req.From, req.To),
	})
	return req, nil
}

func (uc *FriendUseCase) DeclineRequest(ctx context.Context, requestID, uid string) (req *entity.FriendRequest, err error) {
	defer func() { metrics.IncWorkflow("friend_request_decline", err) }()

	req, err = uc.friendRepo.DeclineRequest(ctx, requestID, recipientPending(uid), uc.clock.Now())
	if err != nil {
		return nil, requestError(err, "Failed to decline friend request")
	}

	uc.emitter.Emit(ctx, events.FriendRequestDeclined, uid, map[string]string{
		"request_id": req.ID,
		"from":       req.From,
	})
	return req, nil
}

func requestError(err error, message string) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("Friend request", err)
	}
	return apperrors.Internal(message, err)
}

// RemoveFriend deletes both friendship edges. The chat channel and its
// history stay, but no new messages can be sent.
func (uc *FriendUseCase) RemoveFriend(ctx context.Context, uid, friendID string) (err error) {
	defer func() { metrics.IncWorkflow("friend_remove", err) }()

	ok, err := uc.friendRepo.IsFriend(ctx, uid, friendID)
	if err != nil {
		return apperrors.Internal("Failed to check friendship", err)
	}
	if !ok {
		return apperrors.NotFound("Friend", nil)
	}

	if err := uc.friendRepo.RemoveFriendship(ctx, uid, friendID); err != nil {
		return apperrors.Internal("Failed to remove friend", err)
	}

	uc.emitter.Emit(ctx, events.FriendRemoved, uid, map[string]string{"friend_id": friendID})
	return nil
}

// RequestChat opens the chat with an existing friend, or sends a friend
// request when there is no friendship yet.
func (uc *FriendUseCase) RequestChat(ctx context.Context, from, to, originTopic string) (*ChatRequestResult, error) {
	if from == to {
		return nil, apperrors.BadRequest("You cannot chat with yourself", nil)
	}

	ok, err := uc.friendRepo.IsFriend(ctx, from, to)
	if err != nil {
		return nil, apperrors.Internal("Failed to check friendship", err)
	}
	if ok {
		return &ChatRequestResult{ChatID: entity.ChannelKey(from, to)}, nil
	}

	req, err := uc.SendRequest(ctx, from, to, originTopic)
	if err != nil {
		return nil, err
	}
	return &ChatRequestResult{Request: req}, nil
}

func (uc *FriendUseCase) AreFriends(ctx context.Context, a, b string) (bool, error) {
	ok, err := uc.friendRepo.IsFriend(ctx, a, b)
	if err != nil {
		return false, apperrors.Internal("Failed to check friendship", err)
	}
	return ok, nil
}

func (uc *FriendUseCase) ListFriends(ctx context.Context, uid string) ([]*entity.Friend, error) {
	friends, err := uc.friendRepo.ListFriends(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to list friends", err)
	}
	if err := uc.resolveFriendNames(ctx, friends); err != nil {
		return nil, err
	}
	return friends, nil
}

func (uc *FriendUseCase) ListIncoming(ctx context.Context, uid string) ([]*entity.FriendRequest, error) {
	reqs, err := uc.friendRepo.ListIncoming(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to list friend requests", err)
	}

	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.From
	}
	names, err := uc.displayNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, req := range reqs {
		req.FromName = names[i]
	}
	return reqs, nil
}

func (uc *FriendUseCase) ListOutgoing(ctx context.Context, uid string) ([]*entity.FriendRequest, error) {
	reqs, err := uc.friendRepo.ListOutgoing(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to list friend requests", err)
	}

	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.To
	}
	names, err := uc.displayNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, req := range reqs {
		req.ToName = names[i]
	}
	return reqs, nil
}

// WatchFriends delivers the friend list, with names, on every change.
func (uc *FriendUseCase) WatchFriends(ctx context.Context, uid string, fn func([]*entity.Friend, error)) repository.Unsubscribe {
	return uc.friendRepo.WatchFriends(ctx, uid, func(friends []*entity.Friend, err error) {
		if err != nil {
			logger.Warn("Friend listener for %s failed: %v", uid, err)
			fn(nil, err)
			return
		}
		if err := uc.resolveFriendNames(ctx, friends); err != nil {
			fn(nil, err)
			return
		}
		fn(friends, nil)
	})
}

func (uc *FriendUseCase) resolveFriendNames(ctx context.Context, friends []*entity.Friend) error {
	ids := make([]string, len(friends))
	for i, f := range friends {
		ids[i] = f.FriendID
	}
	names, err := uc.displayNames(ctx, ids)
	if err != nil {
		return err
	}
	for i, f := range friends {
		f.Name = names[i]
	}
	return nil
}

// displayNames loads the profiles of ids concurrently. Missing profiles
// read as "Anonymous".
func (uc *FriendUseCase) displayNames(ctx context.Context, ids []string) ([]string, error) {
	names := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			user, err := uc.userRepo.GetByID(gctx, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			names[i] = user.DisplayName()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Internal("Failed to load profiles", err)
	}
	return names, nil
}
