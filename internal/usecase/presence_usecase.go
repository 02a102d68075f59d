package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/metrics"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

type PresenceOptions struct {
	HeartbeatInterval time.Duration
	StatusThreshold   time.Duration
	TopicThreshold    time.Duration
	WriteTimeout      time.Duration
}

// DefaultPresenceOptions keeps every threshold at twice the heartbeat
// interval so one lost tick does not flip a user offline.
var DefaultPresenceOptions = PresenceOptions{
	HeartbeatInterval: 15 * time.Second,
	StatusThreshold:   30 * time.Second,
	TopicThreshold:    30 * time.Second,
	WriteTimeout:      10 * time.Second,
}

// Heartbeat identifies one started ticker. A later StartHeartbeat for the
// same scope supersedes it, after which Release on it is a no-op.
type Heartbeat struct {
	Scope entity.Scope
	gen   uint64
}

type PresenceEvent struct {
	Scope      entity.Scope
	Online     bool
	LastActive time.Time
}

type heartbeat struct {
	scope  entity.Scope
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type PresenceUseCase struct {
	presenceRepo repository.PresenceRepository
	clock        clockwork.Clock
	opts         PresenceOptions

	mu    sync.Mutex
	gen   uint64
	beats map[string]*heartbeat
	// drained holds the generations Shutdown stopped, so their owners can
	// still release them afterwards.
	drained map[string]uint64

	holdMu sync.Mutex
	holds  map[string]*statusHold
}

// statusHold is the status heartbeat shared by every open chat view of a
// user, across sessions.
type statusHold struct {
	count int
	hb    Heartbeat
}

func NewPresenceUseCase(presenceRepo repository.PresenceRepository, clock clockwork.Clock, opts PresenceOptions) *PresenceUseCase {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultPresenceOptions.HeartbeatInterval
	}
	if opts.StatusThreshold <= 0 {
		opts.StatusThreshold = DefaultPresenceOptions.StatusThreshold
	}
	if opts.TopicThreshold <= 0 {
		opts.TopicThreshold = DefaultPresenceOptions.TopicThreshold
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultPresenceOptions.WriteTimeout
	}

	return &PresenceUseCase{
		presenceRepo: presenceRepo,
		clock:        clock,
		opts:         opts,
		beats:        make(map[string]*heartbeat),
		drained:      make(map[string]uint64),
		holds:        make(map[string]*statusHold),
	}
}

func (uc *PresenceUseCase) Options() PresenceOptions {
	return uc.opts
}

// IsOnline reports whether lastActive is fresh right now.
func (uc *PresenceUseCase) IsOnline(lastActive time.Time, threshold time.Duration) bool {
	return service.IsOnlineAt(uc.clock.Now(), lastActive, threshold)
}

func (uc *PresenceUseCase) threshold(scope entity.Scope) time.Duration {
	if scope.Kind == entity.ScopeParticipant {
		return uc.opts.TopicThreshold
	}
	return uc.opts.StatusThreshold
}

// StartHeartbeat begins writing the scope's last-active time every
// heartbeat interval. A ticker already running for the scope is stopped
// first, so there is never more than one per scope.
func (uc *PresenceUseCase) StartHeartbeat(scope entity.Scope) Heartbeat {
	key := scope.String()

	uc.mu.Lock()
	if old, ok := uc.beats[key]; ok {
		old.cancel()
		<-old.done
	}

	uc.gen++
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{scope: scope, gen: uc.gen, cancel: cancel, done: make(chan struct{})}
	ticker := uc.clock.NewTicker(uc.opts.HeartbeatInterval)
	uc.beats[key] = hb
	delete(uc.drained, key)
	metrics.SetActiveHeartbeats(len(uc.beats))
	uc.mu.Unlock()

	go uc.run(ctx, scope, ticker, hb.done)

	logger.Debug("Heartbeat started for %s", key)
	return Heartbeat{Scope: scope, gen: hb.gen}
}

func (uc *PresenceUseCase) run(ctx context.Context, scope entity.Scope, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			uc.touch(ctx, scope)
		}
	}
}

func (uc *PresenceUseCase) touch(ctx context.Context, scope entity.Scope) {
	wctx, cancel := context.WithTimeout(ctx, uc.opts.WriteTimeout)
	defer cancel()

	err := uc.presenceRepo.Touch(wctx, scope, uc.clock.Now())
	metrics.IncHeartbeat(scopeLabel(scope), err == nil)
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug("Heartbeat for %s found no record", scope)
		return
	}
	logger.Warn("Heartbeat write for %s failed: %v", scope, err)
}

// StopHeartbeat cancels the scope's ticker, whoever started it. Closing
// the status scope also marks the user offline.
func (uc *PresenceUseCase) StopHeartbeat(ctx context.Context, scope entity.Scope) {
	uc.stop(scope, 0)
	uc.markOffline(ctx, scope)
}

// Release stops the heartbeat only while h is still the current ticker of
// its scope. It reports whether it did. A heartbeat stopped by Shutdown is
// still owned by h, so releasing it afterwards reports true once.
func (uc *PresenceUseCase) Release(ctx context.Context, h Heartbeat) bool {
	if uc.stop(h.Scope, h.gen) {
		uc.markOffline(ctx, h.Scope)
		return true
	}

	key := h.Scope.String()
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if gen, ok := uc.drained[key]; ok && gen == h.gen {
		delete(uc.drained, key)
		return true
	}
	return false
}

func (uc *PresenceUseCase) stop(scope entity.Scope, gen uint64) bool {
	key := scope.String()

	uc.mu.Lock()
	hb, ok := uc.beats[key]
	if !ok || (gen != 0 && hb.gen != gen) {
		uc.mu.Unlock()
		return false
	}
	delete(uc.beats, key)
	metrics.SetActiveHeartbeats(len(uc.beats))
	uc.mu.Unlock()

	hb.cancel()
	<-hb.done
	logger.Debug("Heartbeat stopped for %s", key)
	return true
}

func (uc *PresenceUseCase) markOffline(ctx context.Context, scope entity.Scope) {
	if scope.Kind != entity.ScopeStatus {
		return
	}
	if err := uc.presenceRepo.SetOnline(ctx, scope.UserID, false, uc.clock.Now()); err != nil {
		metrics.IncHeartbeat(scopeLabel(scope), false)
		logger.Warn("Failed to mark %s offline: %v", scope.UserID, err)
	}
}

// Shutdown stops every running heartbeat and marks status scopes offline.
// Sessions that end later can still Release what they started.
func (uc *PresenceUseCase) Shutdown(ctx context.Context) {
	uc.mu.Lock()
	beats := make([]*heartbeat, 0, len(uc.beats))
	for key, hb := range uc.beats {
		beats = append(beats, hb)
		uc.drained[key] = hb.gen
	}
	uc.mu.Unlock()

	for _, hb := range beats {
		if uc.stop(hb.scope, hb.gen) {
			uc.markOffline(ctx, hb.scope)
		}
	}
}

func (uc *PresenceUseCase) ActiveHeartbeats() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.beats)
}

// GoOnline is what opening a chat view does: set the flag, then keep
// lastSeen fresh.
func (uc *PresenceUseCase) GoOnline(ctx context.Context, uid string) Heartbeat {
	if err := uc.presenceRepo.SetOnline(ctx, uid, true, uc.clock.Now()); err != nil {
		metrics.IncHeartbeat("status", false)
		logger.Warn("Failed to mark %s online: %v", uid, err)
	}
	return uc.StartHeartbeat(entity.StatusScope(uid))
}

// HoldOnline keeps uid online until every hold taken on it is released.
// The first hold goes online; releasing the last one goes offline.
func (uc *PresenceUseCase) HoldOnline(ctx context.Context, uid string) func(context.Context) {
	uc.holdMu.Lock()
	hold, ok := uc.holds[uid]
	if !ok {
		hold = &statusHold{hb: uc.GoOnline(ctx, uid)}
		uc.holds[uid] = hold
	}
	hold.count++
	uc.holdMu.Unlock()

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			uc.holdMu.Lock()
			defer uc.holdMu.Unlock()
			hold.count--
			if hold.count > 0 {
				return
			}
			if uc.holds[uid] == hold {
				delete(uc.holds, uid)
			}
			uc.Release(ctx, hold.hb)
		})
	}
}

func (uc *PresenceUseCase) GetStatus(ctx context.Context, uid string) (*entity.OnlineStatus, error) {
	rec, err := uc.presenceRepo.GetStatus(ctx, uid)
	if err != nil {
		return nil, apperrors.Internal("Failed to load presence", err)
	}
	return &entity.OnlineStatus{
		UserID:   uid,
		Online:   rec.Online,
		LastSeen: rec.LastActive,
		Active:   rec.Online && uc.IsOnline(rec.LastActive, uc.opts.StatusThreshold),
	}, nil
}

// Subscribe delivers the scope's derived online state on every change. The
// last record is also re-checked every heartbeat interval, and an event is
// sent when it has gone stale without a remote change.
func (uc *PresenceUseCase) Subscribe(ctx context.Context, scope entity.Scope, fn func(*PresenceEvent, error)) repository.Unsubscribe {
	threshold := uc.threshold(scope)
	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	var latest *repository.PresenceRecord
	var online bool
	derive := func(rec *repository.PresenceRecord) *PresenceEvent {
		return &PresenceEvent{
			Scope:      scope,
			Online:     rec.Exists && rec.Online && uc.IsOnline(rec.LastActive, threshold),
			LastActive: rec.LastActive,
		}
	}

	unsub := uc.presenceRepo.Watch(ctx, scope, func(rec *repository.PresenceRecord, err error) {
		if err != nil {
			logger.Warn("Presence listener for %s failed: %v", scope, err)
			fn(nil, err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		latest = rec
		ev := derive(rec)
		online = ev.Online
		fn(ev, nil)
	})

	ticker := uc.clock.NewTicker(uc.opts.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				mu.Lock()
				if latest != nil && ctx.Err() == nil {
					if ev := derive(latest); ev.Online != online {
						online = ev.Online
						fn(ev, nil)
					}
				}
				mu.Unlock()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsub()
		})
	}
}

func scopeLabel(scope entity.Scope) string {
	if scope.Kind == entity.ScopeParticipant {
		return "participant"
	}
	return "status"
}
