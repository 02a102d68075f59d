package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/infrastructure/docstore"
	apperrors "topicmeet/pkg/errors"
)

func TestAcceptFromTopicCreatesFriendshipAndEmptyChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")

	req, err := f.friend.SendRequest(ctx, "alice", "bob", "Coffee")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", req.ID)
	assert.Equal(t, entity.RequestPending, req.Status)

	accepted, err := f.friend.AcceptRequest(ctx, req.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestAccepted, accepted.Status)

	friends, err := f.friend.ListFriends(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].FriendID)
	assert.Equal(t, "Coffee", friends[0].Topic)
	assert.Equal(t, "Alice", friends[0].Name)

	chatID := entity.ChannelKey("alice", "bob")
	chat, err := f.chats.GetByID(ctx, chatID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, chat.Users)

	msgs, err := f.chats.ListMessages(ctx, chatID, 20, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	ok, err := f.friend.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcceptIsAtomicUnderInjectedFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")

	req, err := f.friend.SendRequest(ctx, "alice", "bob", "Coffee")
	require.NoError(t, err)

	injected := errors.New("chat write failed")
	f.store.SetCommitHook(func(paths []string) error {
		for _, p := range paths {
			if strings.HasPrefix(p, "chats/") {
				return injected
			}
		}
		return nil
	})

	_, err = f.friend.AcceptRequest(ctx, req.ID, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)
	f.store.SetCommitHook(nil)

	stored, err := f.friends.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestPending, stored.Status)

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := f.friends.IsFriend(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, ok, "no edge %s -> %s", pair[0], pair[1])
	}

	_, err = f.store.Get(ctx, "chats/"+entity.ChannelKey("alice", "bob"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	// The request is still actionable once the store recovers.
	_, err = f.friend.AcceptRequest(ctx, req.ID, "bob")
	assert.NoError(t, err)
}

func TestDuplicateSendRequestFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")

	_, err := f.friend.SendRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = f.friend.SendRequest(ctx, "alice", "bob", "")
	assert.True(t, apperrors.Is(err, apperrors.CodeAlreadyExists))

	outgoing, err := f.friend.ListOutgoing(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, "Bob", outgoing[0].ToName)

	incoming, err := f.friend.ListIncoming(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "Alice", incoming[0].FromName)
}

func TestMutualPendingRequestsAreAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")

	_, err := f.friend.SendRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)
	_, err = f.friend.SendRequest(ctx, "bob", "alice", "")
	require.NoError(t, err)

	incoming, err := f.friend.ListIncoming(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
}

func TestSendRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")

	_, err := f.friend.SendRequest(ctx, "alice", "alice", "")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))

	_, err = f.friend.SendRequest(ctx, "alice", "nobody", "")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestAcceptRequestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")

	_, err := f.friend.AcceptRequest(ctx, "alice_bob", "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	req, err := f.friend.SendRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = f.friend.AcceptRequest(ctx, req.ID, "alice")
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized), "sender cannot accept")

	_, err = f.friend.DeclineRequest(ctx, req.ID, "bob")
	require.NoError(t, err)

	_, err = f.friend.AcceptRequest(ctx, req.ID, "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict), "declined is terminal")

	ok, err := f.friend.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveFriendKeepsChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	_, err := f.chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.friend.RemoveFriend(ctx, "bob", "alice"))

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := f.friends.IsFriend(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, ok)
	}

	chat, err := f.chats.GetByID(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, chatID, chat.ID)
	msgs, err := f.chats.ListMessages(ctx, chatID, 20, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	err = f.friend.RemoveFriend(ctx, "bob", "alice")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestFriendsCanBefriendAgainAfterRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	f.befriend(t, "alice", "bob", "")
	require.NoError(t, f.friend.RemoveFriend(ctx, "alice", "bob"))

	res, err := f.friend.RequestChat(ctx, "alice", "bob", "Tea")
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	assert.Equal(t, entity.RequestPending, res.Request.Status)

	_, err = f.friend.AcceptRequest(ctx, res.Request.ID, "bob")
	require.NoError(t, err)
	ok, err := f.friend.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequestChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	f.addUser(t, "carol", "Carol")
	f.befriend(t, "alice", "bob", "")

	res, err := f.friend.RequestChat(ctx, "bob", "alice", "Coffee")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", res.ChatID)
	assert.Nil(t, res.Request)

	res, err = f.friend.RequestChat(ctx, "alice", "carol", "Coffee")
	require.NoError(t, err)
	assert.Empty(t, res.ChatID)
	require.NotNil(t, res.Request)
	assert.Equal(t, "alice_carol", res.Request.ID)
	assert.Equal(t, "Coffee", res.Request.Topic)
}
