package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	apperrors "topicmeet/pkg/errors"
)

func onlineIDs(ps []*entity.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

func TestCoffeeParticipantGoesStaleAndComesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice", "Alice")

	p, err := f.membership.Join(ctx, "Coffee", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "coffee", p.TopicKey)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, t0, p.JoinedAt)

	online, err := f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, onlineIDs(online))

	f.clock.Advance(45 * time.Second)
	online, err = f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Empty(t, online)

	require.NoError(t, f.membership.Heartbeat(ctx, "Coffee", "alice"))
	online, err = f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, onlineIDs(online))
	assert.Equal(t, t0, online[0].JoinedAt, "heartbeat keeps the original join time")
}

func TestJoinTwiceKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.Join(ctx, "Late Night Coffee", "bob", "Bob")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	p, err := f.membership.Join(ctx, "late night coffee", "bob", "Bobby")
	require.NoError(t, err)
	assert.Equal(t, "late_night_coffee", p.TopicKey)
	assert.Equal(t, t0, p.JoinedAt)

	online, err := f.membership.ListOnline(ctx, "late_night_coffee")
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "Bobby", online[0].Name)

	joined, err := f.membership.ListJoinedTopics(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, "late night coffee", joined[0].OriginalTopicName)
}

func TestJoinWithoutProfileIsAnonymous(t *testing.T) {
	f := newFixture(t)
	p, err := f.membership.Join(context.Background(), "Tea", "ghost", "  ")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", p.Name)
}

func TestJoinRejectsEmptyTopic(t *testing.T) {
	f := newFixture(t)
	_, err := f.membership.Join(context.Background(), " !!! ", "alice", "Alice")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestHeartbeatAfterLeaveIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.Join(ctx, "Coffee", "alice", "Alice")
	require.NoError(t, err)
	require.NoError(t, f.membership.Leave(ctx, "Coffee", "alice"))

	assert.NoError(t, f.membership.Heartbeat(ctx, "Coffee", "alice"))
	online, err := f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Empty(t, online, "heartbeat must not resurrect a left record")

	joined, err := f.membership.ListJoinedTopics(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, joined)
}

func TestEndSessionLeavesOnlyWhileOwningHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.Join(ctx, "Coffee", "alice", "Alice")
	require.NoError(t, err)
	scope := entity.ParticipantScope("coffee", "alice")
	first := f.presence.StartHeartbeat(scope)
	second := f.presence.StartHeartbeat(scope)

	require.NoError(t, f.membership.EndSession(ctx, first))
	online, err := f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, onlineIDs(online), "a newer session still holds the topic")

	require.NoError(t, f.membership.EndSession(ctx, second))
	online, err = f.membership.ListOnline(ctx, "Coffee")
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.Zero(t, f.presence.ActiveHeartbeats())
}

func TestEndSessionAfterShutdownStillLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.Join(ctx, "Coffee", "alice", "Alice")
	require.NoError(t, err)
	hb := f.presence.StartHeartbeat(entity.ParticipantScope("coffee", "alice"))

	f.presence.Shutdown(ctx)
	assert.Zero(t, f.presence.ActiveHeartbeats())

	require.NoError(t, f.membership.EndSession(ctx, hb))
	_, err = f.participants.Get(ctx, "coffee", "alice")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// The drained heartbeat is released once.
	assert.False(t, f.presence.Release(ctx, hb))
}

func TestWatchOnlineDropsStaleParticipantsOnRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.Join(ctx, "Coffee", "alice", "Alice")
	require.NoError(t, err)

	var mu sync.Mutex
	var latest []string
	var calls int
	unsub, err := f.membership.WatchOnline(ctx, "Coffee", func(ps []*entity.Participant, err error) {
		assert.NoError(t, err)
		mu.Lock()
		latest = onlineIDs(ps)
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0 && len(latest) == 1
	}, time.Second, 5*time.Millisecond)

	// No remote change: only the refresh ticker can notice alice went stale.
	f.clock.Advance(15 * time.Second)
	f.clock.Advance(15 * time.Second)
	f.clock.Advance(15 * time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 0
	}, time.Second, 5*time.Millisecond)
}
