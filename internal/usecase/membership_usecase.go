package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/events"
	"topicmeet/internal/infrastructure/metrics"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

type MembershipUseCase struct {
	participantRepo repository.ParticipantRepository
	userRepo        repository.UserRepository
	presence        *PresenceUseCase
	emitter         *events.Emitter
	clock           clockwork.Clock
}

func NewMembershipUseCase(
	participantRepo repository.ParticipantRepository,
	userRepo repository.UserRepository,
	presence *PresenceUseCase,
	emitter *events.Emitter,
	clock clockwork.Clock,
) *MembershipUseCase {
	return &MembershipUseCase{
		participantRepo: participantRepo,
		userRepo:        userRepo,
		presence:        presence,
		emitter:         emitter,
		clock:           clock,
	}
}

// TopicKey turns a topic name into its membership key. Keys are already
// sanitized so passing one back in is harmless.
func TopicKey(topic string) (string, error) {
	key := service.SanitizeTopicName(topic)
	if strings.Trim(key, "_") == "" {
		return "", apperrors.BadRequest("Topic name is required", nil)
	}
	return key, nil
}

// Join records uid as a participant of topic, refreshing the record when it
// already exists. The record id is the user id.
func (uc *MembershipUseCase) Join(ctx context.Context, topic, uid, displayName string) (*entity.Participant, error) {
	key, err := TopicKey(topic)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = uc.resolveName(ctx, uid)
	}

	p := &entity.Participant{
		TopicKey:   key,
		UserID:     uid,
		Name:       name,
		LastActive: uc.clock.Now(),
	}
	created, err := uc.participantRepo.Join(ctx, p, strings.TrimSpace(topic))
	metrics.IncWorkflow("topic_join", err)
	if err != nil {
		return nil, apperrors.Internal("Failed to join topic", err)
	}
	p.Online = true

	if created {
		uc.emitter.Emit(ctx, events.TopicJoined, uid, map[string]string{"topic_key": key, "topic": topic})
	}
	return p, nil
}

func (uc *MembershipUseCase) resolveName(ctx context.Context, uid string) string {
	user, err := uc.userRepo.GetByID(ctx, uid)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Failed to load profile of %s for topic join: %v", uid, err)
		}
		return (*entity.User)(nil).DisplayName()
	}
	return user.DisplayName()
}

// Heartbeat refreshes the record. A record that is gone (left elsewhere or
// signed out) is not an error.
func (uc *MembershipUseCase) Heartbeat(ctx context.Context, topic, recordID string) error {
	key, err := TopicKey(topic)
	if err != nil {
		return err
	}

	err = uc.participantRepo.Touch(ctx, key, recordID, uc.clock.Now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperrors.Internal("Failed to refresh topic presence", err)
	}
	return nil
}

func (uc *MembershipUseCase) Leave(ctx context.Context, topic, recordID string) error {
	key, err := TopicKey(topic)
	if err != nil {
		return err
	}

	uc.presence.StopHeartbeat(ctx, entity.ParticipantScope(key, recordID))

	err = uc.participantRepo.Leave(ctx, key, recordID)
	metrics.IncWorkflow("topic_leave", err)
	if err != nil {
		return apperrors.Internal("Failed to leave topic", err)
	}
	return nil
}

// EndSession closes a topic view that was kept alive by h. The record is
// removed only if no newer session has taken over the heartbeat.
func (uc *MembershipUseCase) EndSession(ctx context.Context, h Heartbeat) error {
	if !uc.presence.Release(ctx, h) {
		return nil
	}
	err := uc.participantRepo.Leave(ctx, h.Scope.TopicKey, h.Scope.UserID)
	metrics.IncWorkflow("topic_leave", err)
	if err != nil {
		return apperrors.Internal("Failed to leave topic", err)
	}
	return nil
}

// ListOnline returns the participants whose last activity is within the
// topic threshold.
func (uc *MembershipUseCase) ListOnline(ctx context.Context, topic string) ([]*entity.Participant, error) {
	key, err := TopicKey(topic)
	if err != nil {
		return nil, err
	}

	threshold := uc.presence.Options().TopicThreshold
	records, err := uc.participantRepo.ListActiveSince(ctx, key, uc.clock.Now().Add(-threshold))
	if err != nil {
		return nil, apperrors.Internal("Failed to list topic participants", err)
	}
	return uc.filterOnline(records), nil
}

func (uc *MembershipUseCase) filterOnline(records []*entity.Participant) []*entity.Participant {
	threshold := uc.presence.Options().TopicThreshold
	online := make([]*entity.Participant, 0, len(records))
	for _, rec := range records {
		if !uc.presence.IsOnline(rec.LastActive, threshold) {
			continue
		}
		p := *rec
		p.Online = true
		online = append(online, &p)
	}
	sort.Slice(online, func(i, j int) bool {
		return online[i].JoinedAt.Before(online[j].JoinedAt)
	})
	return online
}

// WatchOnline keeps fn supplied with the online participants of topic. The
// list is re-filtered on every snapshot and once per heartbeat interval, so
// participants that stop heartbeating drop out without a remote change.
func (uc *MembershipUseCase) WatchOnline(ctx context.Context, topic string, fn func([]*entity.Participant, error)) (repository.Unsubscribe, error) {
	key, err := TopicKey(topic)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	var latest []*entity.Participant
	var loaded bool
	deliver := func() {
		mu.Lock()
		defer mu.Unlock()
		if !loaded || ctx.Err() != nil {
			return
		}
		fn(uc.filterOnline(latest), nil)
	}

	unsub := uc.participantRepo.Watch(ctx, key, func(records []*entity.Participant, err error) {
		if err != nil {
			logger.Warn("Participant listener for %s failed: %v", key, err)
			fn(nil, err)
			return
		}
		mu.Lock()
		latest = records
		loaded = true
		mu.Unlock()
		deliver()
	})

	ticker := uc.clock.NewTicker(uc.presence.Options().HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsub()
		})
	}, nil
}

func (uc *MembershipUseCase) ListJoinedTopics(ctx context.Context, uid string) ([]*entity.JoinedTopic, error) {
	topics, err := uc.participantRepo.ListJoinedTopics(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to list joined topics", err)
	}
	return topics, nil
}
