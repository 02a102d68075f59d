package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/events"
	"topicmeet/internal/infrastructure/metrics"
	"topicmeet/internal/infrastructure/ratelimit"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

const (
	DefaultTopicsPageSize = 20
	// maxTopicScanPages bounds how many store pages one List call reads
	// while skipping hidden and out-of-range topics.
	maxTopicScanPages = 10
)

type TopicUseCase struct {
	topicRepo   repository.TopicRepository
	rateLimiter *ratelimit.RateLimiter
	emitter     *events.Emitter
	clock       clockwork.Clock
	pageSize    int
	msgPageSize int
}

func NewTopicUseCase(
	topicRepo repository.TopicRepository,
	rateLimiter *ratelimit.RateLimiter,
	emitter *events.Emitter,
	clock clockwork.Clock,
	pageSize, msgPageSize int,
) *TopicUseCase {
	if pageSize <= 0 {
		pageSize = DefaultTopicsPageSize
	}
	if msgPageSize <= 0 {
		msgPageSize = DefaultMessagesPageSize
	}
	return &TopicUseCase{
		topicRepo:   topicRepo,
		rateLimiter: rateLimiter,
		emitter:     emitter,
		clock:       clock,
		pageSize:    pageSize,
		msgPageSize: msgPageSize,
	}
}

type CreateTopicInput struct {
	Title     string
	Question  string
	RadiusKm  *float64
	Latitude  *float64
	Longitude *float64
}

type ListTopicsInput struct {
	Limit     int
	After     *repository.PageCursor
	Latitude  *float64
	Longitude *float64
}

type TopicPage struct {
	Topics []*entity.Topic
	Next   *repository.PageCursor
}

func (uc *TopicUseCase) Create(ctx context.Context, uid string, input CreateTopicInput) (*entity.Topic, error) {
	title := strings.TrimSpace(input.Title)
	question := strings.TrimSpace(input.Question)
	if title == "" || question == "" {
		return nil, apperrors.BadRequest("Title and question are required", nil)
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, apperrors.BadRequest("Latitude and longitude must be given together", nil)
	}
	if input.Latitude != nil && !service.ValidCoordinates(*input.Latitude, *input.Longitude) {
		return nil, apperrors.BadRequest("Invalid coordinates", service.ErrInvalidCoordinates)
	}
	if input.RadiusKm != nil && *input.RadiusKm <= 0 {
		return nil, apperrors.BadRequest("Radius must be greater than zero", nil)
	}

	topic := &entity.Topic{
		Title:     title,
		Question:  question,
		RadiusKm:  input.RadiusKm,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		CreatedAt: uc.clock.Now(),
		CreatedBy: uid,
	}
	err := uc.topicRepo.Create(ctx, topic)
	metrics.IncWorkflow("topic_create", err)
	if err != nil {
		return nil, apperrors.Internal("Failed to create topic", err)
	}

	uc.emitter.Emit(ctx, events.TopicCreated, uid, topic)
	return topic, nil
}

// List returns the newest topics visible to uid. Topics the caller hid are
// skipped, and when the caller sends a location, so are located topics
// whose radius does not reach them.
func (uc *TopicUseCase) List(ctx context.Context, uid string, input ListTopicsInput) (*TopicPage, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = uc.pageSize
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, apperrors.BadRequest("Latitude and longitude must be given together", nil)
	}
	if input.Latitude != nil && !service.ValidCoordinates(*input.Latitude, *input.Longitude) {
		return nil, apperrors.BadRequest("Invalid coordinates", service.ErrInvalidCoordinates)
	}

	page := &TopicPage{Topics: make([]*entity.Topic, 0, limit)}
	after := input.After
	for i := 0; i < maxTopicScanPages; i++ {
		batch, err := uc.topicRepo.ListRecent(ctx, limit, after)
		if err != nil {
			return nil, apperrors.Internal("Failed to list topics", err)
		}

		for _, topic := range batch {
			after = &repository.PageCursor{At: topic.CreatedAt, ID: topic.ID}
			if topic.IsHiddenFor(uid) || !inRange(topic, input.Latitude, input.Longitude) {
				continue
			}
			page.Topics = append(page.Topics, topic)
			if len(page.Topics) == limit {
				page.Next = after
				return page, nil
			}
		}

		if len(batch) < limit {
			return page, nil
		}
	}

	page.Next = after
	return page, nil
}

func inRange(topic *entity.Topic, lat, lng *float64) bool {
	if lat == nil || !topic.HasLocation() || topic.RadiusKm == nil {
		return true
	}
	d, err := service.DistanceKm(*lat, *lng, *topic.Latitude, *topic.Longitude)
	if err != nil {
		logger.Warn("Topic %s has invalid coordinates: %v", topic.ID, err)
		return false
	}
	return d <= *topic.RadiusKm
}

func (uc *TopicUseCase) Get(ctx context.Context, id string) (*entity.Topic, error) {
	topic, err := uc.topicRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Topic", err)
		}
		return nil, apperrors.Internal("Failed to load topic", err)
	}
	return topic, nil
}

// Hide removes the topic from uid's listing only.
func (uc *TopicUseCase) Hide(ctx context.Context, uid, id string) error {
	if _, err := uc.Get(ctx, id); err != nil {
		return err
	}
	if err := uc.topicRepo.Hide(ctx, id, uid); err != nil {
		return apperrors.Internal("Failed to hide topic", err)
	}
	return nil
}

func (uc *TopicUseCase) Delete(ctx context.Context, uid, id string) error {
	topic, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if topic.CreatedBy != uid {
		return apperrors.Forbidden("Only the creator can delete this topic", nil)
	}

	removed, err := uc.topicRepo.Delete(ctx, id)
	metrics.IncWorkflow("topic_delete", err)
	if err != nil {
		return apperrors.Internal("Failed to delete topic", err)
	}

	logger.Info("Topic %s deleted by %s with %d messages", id, uid, removed)
	uc.emitter.Emit(ctx, events.TopicDeleted, uid, map[string]string{"topic_id": id})
	return nil
}

func (uc *TopicUseCase) SendMessage(ctx context.Context, uid, topicID, text string) (*entity.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.BadRequest("Message cannot be empty", nil)
	}
	if len(text) > maxMessageLength {
		return nil, apperrors.BadRequest("Message is too long", nil)
	}
	if uc.rateLimiter != nil {
		if ok, _ := uc.rateLimiter.Allow(uid, ratelimit.ActionSendMessage); !ok {
			return nil, apperrors.TooManyRequests("Too many messages. Please slow down")
		}
	}
	if _, err := uc.Get(ctx, topicID); err != nil {
		return nil, err
	}

	msg := &entity.Message{
		SenderID:  uid,
		Text:      text,
		Timestamp: uc.clock.Now(),
		Status:    entity.MessageSent,
		ReadBy:    []string{uid},
	}
	if err := uc.topicRepo.AddMessage(ctx, topicID, msg); err != nil {
		return nil, apperrors.Internal("Failed to send message", err)
	}
	return msg, nil
}

func (uc *TopicUseCase) ListMessages(ctx context.Context, topicID string, limit int, after *repository.PageCursor) (*MessagePage, error) {
	if _, err := uc.Get(ctx, topicID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = uc.msgPageSize
	}

	msgs, err := uc.topicRepo.ListMessages(ctx, topicID, limit, after)
	if err != nil {
		return nil, apperrors.Internal("Failed to load messages", err)
	}
	return newMessagePage(msgs, limit), nil
}

func (uc *TopicUseCase) WatchMessages(ctx context.Context, topicID string, fn func([]*entity.Message, error)) (repository.Unsubscribe, error) {
	if _, err := uc.Get(ctx, topicID); err != nil {
		return nil, err
	}
	return uc.topicRepo.WatchMessages(ctx, topicID, uc.msgPageSize, fn), nil
}
