package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicmeet/internal/domain/entity"
	apperrors "topicmeet/pkg/errors"
)

func ptr(v float64) *float64 { return &v }

func titles(ts []*entity.Topic) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Title)
	}
	return out
}

func TestCreateTopicValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Coffee"})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))

	_, err = f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Coffee", Question: "Best beans?", Latitude: ptr(48.8)})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest), "latitude without longitude")

	_, err = f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Coffee", Question: "Best beans?", Latitude: ptr(91), Longitude: ptr(0)})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))

	topic, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: " Coffee ", Question: "Best beans?"})
	require.NoError(t, err)
	assert.Equal(t, "Coffee", topic.Title)
	assert.Equal(t, "alice", topic.CreatedBy)
	assert.NotEmpty(t, topic.ID)
}

func TestListTopicsSkipsHiddenAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 5; i++ {
		topic, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: fmt.Sprintf("T%d", i), Question: "?"})
		require.NoError(t, err)
		ids = append(ids, topic.ID)
		f.clock.Advance(time.Minute)
	}
	require.NoError(t, f.topic.Hide(ctx, "bob", ids[3]))

	page, err := f.topic.List(ctx, "bob", ListTopicsInput{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"T5", "T3"}, titles(page.Topics))
	require.NotNil(t, page.Next)

	page, err = f.topic.List(ctx, "bob", ListTopicsInput{Limit: 2, After: page.Next})
	require.NoError(t, err)
	assert.Equal(t, []string{"T2", "T1"}, titles(page.Topics))

	page, err = f.topic.List(ctx, "alice", ListTopicsInput{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Topics, 5, "hiding only affects the user who hid")
	assert.Nil(t, page.Next)
}

func TestListTopicsFiltersByRadius(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Paris and London are about 344 km apart.
	_, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Paris local", Question: "?",
		Latitude: ptr(48.8566), Longitude: ptr(2.3522), RadiusKm: ptr(50)})
	require.NoError(t, err)
	_, err = f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Paris wide", Question: "?",
		Latitude: ptr(48.8566), Longitude: ptr(2.3522), RadiusKm: ptr(500)})
	require.NoError(t, err)
	_, err = f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Everywhere", Question: "?"})
	require.NoError(t, err)

	page, err := f.topic.List(ctx, "bob", ListTopicsInput{Latitude: ptr(51.5074), Longitude: ptr(-0.1278)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Paris wide", "Everywhere"}, titles(page.Topics))

	page, err = f.topic.List(ctx, "bob", ListTopicsInput{})
	require.NoError(t, err)
	assert.Len(t, page.Topics, 3)
}

func TestDeleteTopicCreatorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topic, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Coffee", Question: "?"})
	require.NoError(t, err)
	_, err = f.topic.SendMessage(ctx, "bob", topic.ID, "espresso")
	require.NoError(t, err)

	err = f.topic.Delete(ctx, "bob", topic.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	require.NoError(t, f.topic.Delete(ctx, "alice", topic.ID))
	_, err = f.topic.Get(ctx, topic.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	msgs, err := f.topics.ListMessages(ctx, topic.ID, 20, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTopicMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topic, err := f.topic.Create(ctx, "alice", CreateTopicInput{Title: "Coffee", Question: "?"})
	require.NoError(t, err)

	_, err = f.topic.SendMessage(ctx, "bob", topic.ID, "  ")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
	_, err = f.topic.SendMessage(ctx, "bob", "nope", "hi")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, err = f.topic.SendMessage(ctx, "bob", topic.ID, "first")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.topic.SendMessage(ctx, "alice", topic.ID, "second")
	require.NoError(t, err)

	page, err := f.topic.ListMessages(ctx, topic.ID, 0, nil)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "second", page.Messages[0].Text)
	assert.Nil(t, page.Next)
}
