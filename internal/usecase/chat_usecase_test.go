package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/infrastructure/ratelimit"
	apperrors "topicmeet/pkg/errors"
)

func TestSendMessageRequiresFriendship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	f.addUser(t, "eve", "Eve")
	chatID := f.befriend(t, "alice", "bob", "")

	msg, err := f.chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, entity.MessageSent, msg.Status)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)

	_, err = f.chat.SendMessage(ctx, "eve", chatID, SendMessageInput{Text: "let me in"})
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	require.NoError(t, f.friend.RemoveFriend(ctx, "alice", "bob"))
	_, err = f.chat.SendMessage(ctx, "bob", chatID, SendMessageInput{Text: "still there?"})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "You can only chat with friends", appErr.Message)

	_, err = f.chat.SendMessage(ctx, "alice", "missing_chat", SendMessageInput{Text: "x"})
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, err = f.chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "   "})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestListMessagesPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	for i := 0; i < 5; i++ {
		_, err := f.chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: strings.Repeat("x", i+1)})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	page, err := f.chat.ListMessages(ctx, "bob", chatID, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "xxxxx", page.Messages[0].Text)
	require.NotNil(t, page.Next)

	page, err = f.chat.ListMessages(ctx, "bob", chatID, 2, page.Next)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "xxx", page.Messages[0].Text)

	page, err = f.chat.ListMessages(ctx, "bob", chatID, 2, page.Next)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Nil(t, page.Next)
}

func TestMarkReadOnlyTouchesOtherSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	for _, text := range []string{"one", "two"} {
		_, err := f.chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: text})
		require.NoError(t, err)
	}
	_, err := f.chat.SendMessage(ctx, "bob", chatID, SendMessageInput{Text: "mine"})
	require.NoError(t, err)

	n, err := f.chat.MarkRead(ctx, "bob", chatID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.chat.MarkRead(ctx, "bob", chatID)
	require.NoError(t, err)
	assert.Zero(t, n, "already read")

	page, err := f.chat.ListMessages(ctx, "alice", chatID, 0, nil)
	require.NoError(t, err)
	for _, m := range page.Messages {
		if m.SenderID == "alice" {
			assert.Equal(t, entity.MessageSeen, m.Status)
			assert.True(t, m.IsReadBy("bob"))
		} else {
			assert.Equal(t, entity.MessageSent, m.Status)
		}
	}
}

func TestTypingIsWatchedByTheOtherMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	var mu sync.Mutex
	var last *entity.Typing
	unsub, err := f.chat.WatchTyping(ctx, "bob", chatID, func(tp *entity.Typing, err error) {
		assert.NoError(t, err)
		mu.Lock()
		last = tp
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, f.chat.SetTyping(ctx, "alice", chatID, true))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.Typing && last.UserID == "alice"
	}, time.Second, 5*time.Millisecond)

	err = f.chat.SetTyping(ctx, "eve", chatID, true)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))
}

func TestClearingTypingIsNotRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	limiter := ratelimit.NewRateLimiter(f.clock, map[string]ratelimit.Limit{
		ratelimit.ActionTyping: {Burst: 1, Every: time.Hour},
	})
	chat := NewChatUseCase(f.chats, f.friends, f.blobs, limiter, f.clock, 0)

	var mu sync.Mutex
	var last *entity.Typing
	unsub, err := chat.WatchTyping(ctx, "bob", chatID, func(tp *entity.Typing, err error) {
		assert.NoError(t, err)
		mu.Lock()
		last = tp
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, chat.SetTyping(ctx, "alice", chatID, true))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.Typing
	}, time.Second, 5*time.Millisecond)
	err = chat.SetTyping(ctx, "alice", chatID, true)
	assert.True(t, apperrors.Is(err, apperrors.CodeTooManyRequests))

	require.NoError(t, chat.SetTyping(ctx, "alice", chatID, false))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && !last.Typing && last.UserID == "alice"
	}, time.Second, 5*time.Millisecond)
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	url, err := f.chat.UploadImage(ctx, "alice", chatID, "Photo.JPG", strings.NewReader("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://blobs.test/chatImages/"+chatID+"/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	_, err = f.chat.UploadImage(ctx, "alice", chatID, "notes.txt", strings.NewReader("hi"), "text/plain")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
	assert.Len(t, f.blobs.names(), 1)
}

func TestSendMessageIsRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")
	f.addUser(t, "bob", "Bob")
	chatID := f.befriend(t, "alice", "bob", "")

	limiter := ratelimit.NewRateLimiter(f.clock, map[string]ratelimit.Limit{
		ratelimit.ActionSendMessage: {Burst: 2, Every: time.Minute},
	})
	chat := NewChatUseCase(f.chats, f.friends, f.blobs, limiter, f.clock, 0)

	for i := 0; i < 2; i++ {
		_, err := chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "hi"})
		require.NoError(t, err)
	}
	_, err := chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.CodeTooManyRequests))

	f.clock.Advance(time.Minute)
	_, err = chat.SendMessage(ctx, "alice", chatID, SendMessageInput{Text: "hi"})
	assert.NoError(t, err)
}

func TestListChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		f.addUser(t, id, strings.ToUpper(id[:1])+id[1:])
	}
	f.befriend(t, "alice", "bob", "")
	f.befriend(t, "carol", "alice", "")

	chats, err := f.chat.ListChats(ctx, "alice")
	require.NoError(t, err)
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"alice_bob", "alice_carol"}, ids)

	chats, err = f.chat.ListChats(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}
