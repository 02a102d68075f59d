package usecase

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adapterrepo "topicmeet/internal/adapter/repository"
	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
	"topicmeet/internal/infrastructure/firebase"
	"topicmeet/internal/infrastructure/ratelimit"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *docstore.Memory
	clock *clockwork.FakeClock

	users        repository.UserRepository
	participants repository.ParticipantRepository
	presenceRepo repository.PresenceRepository
	friends      repository.FriendRepository
	chats        repository.ChatRepository
	topics       repository.TopicRepository

	blobs *fakeBlobStore
	auth  *mockAuthClient

	presence   *PresenceUseCase
	membership *MembershipUseCase
	friend     *FriendUseCase
	chat       *ChatUseCase
	topic      *TopicUseCase
	user       *UserUseCase
	authUC     *AuthUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: docstore.NewMemory(),
		clock: clockwork.NewFakeClockAt(t0),
		blobs: &fakeBlobStore{objects: make(map[string][]byte)},
		auth:  new(mockAuthClient),
	}
	f.users = adapterrepo.NewUserRepository(f.store)
	f.participants = adapterrepo.NewParticipantRepository(f.store)
	f.presenceRepo = adapterrepo.NewPresenceRepository(f.store)
	f.friends = adapterrepo.NewFriendRepository(f.store)
	f.chats = adapterrepo.NewChatRepository(f.store)
	f.topics = adapterrepo.NewTopicRepository(f.store)

	// Generous limits so tests only hit them on purpose.
	limiter := ratelimit.NewRateLimiter(f.clock, map[string]ratelimit.Limit{
		ratelimit.ActionSendMessage:   {Burst: 100, Every: time.Second},
		ratelimit.ActionTyping:        {Burst: 100, Every: time.Second},
		ratelimit.ActionFriendRequest: {Burst: 100, Every: time.Second},
		ratelimit.ActionUpload:        {Burst: 100, Every: time.Second},
	})

	f.presence = NewPresenceUseCase(f.presenceRepo, f.clock, DefaultPresenceOptions)
	t.Cleanup(func() { f.presence.Shutdown(context.Background()) })

	f.membership = NewMembershipUseCase(f.participants, f.users, f.presence, nil, f.clock)
	f.friend = NewFriendUseCase(f.friends, f.users, limiter, nil, f.clock)
	f.chat = NewChatUseCase(f.chats, f.friends, f.blobs, limiter, f.clock, 0)
	f.topic = NewTopicUseCase(f.topics, limiter, nil, f.clock, 0, 0)
	f.user = NewUserUseCase(f.users, f.blobs, limiter, f.clock)
	f.authUC = NewAuthUseCase(f.users, f.participants, f.presence, f.auth, nil, f.clock)
	return f
}

func (f *fixture) addUser(t *testing.T, id, name string) *entity.User {
	t.Helper()
	u := &entity.User{ID: id, Name: name, Email: id + "@example.com", CreatedAt: f.clock.Now(), LastActive: f.clock.Now()}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// befriend runs the real request/accept workflow between a and b.
func (f *fixture) befriend(t *testing.T, a, b, topic string) string {
	t.Helper()
	ctx := context.Background()
	req, err := f.friend.SendRequest(ctx, a, b, topic)
	require.NoError(t, err)
	_, err = f.friend.AcceptRequest(ctx, req.ID, b)
	require.NoError(t, err)
	return entity.ChannelKey(a, b)
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (s *fakeBlobStore) Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = buf.Bytes()
	if s.types == nil {
		s.types = make(map[string]string)
	}
	s.types[name] = contentType
	return "https://blobs.test/" + name, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

func (s *fakeBlobStore) Close() error {
	return nil
}

func (s *fakeBlobStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for name := range s.objects {
		out = append(out, name)
	}
	return out
}

type mockAuthClient struct {
	mock.Mock
}

func (m *mockAuthClient) CreateUser(ctx context.Context, email, password, displayName string) (string, error) {
	args := m.Called(ctx, email, password, displayName)
	return args.String(0), args.Error(1)
}

func (m *mockAuthClient) DeleteUser(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *mockAuthClient) RevokeRefreshTokens(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *mockAuthClient) SignInWithEmailPassword(ctx context.Context, email, password string) (*firebase.SignInResult, error) {
	args := m.Called(ctx, email, password)
	if res, ok := args.Get(0).(*firebase.SignInResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

// countingPresenceRepo counts heartbeat writes per scope.
type countingPresenceRepo struct {
	repository.PresenceRepository

	mu      sync.Mutex
	touches map[string]int
}

func (r *countingPresenceRepo) Touch(ctx context.Context, scope entity.Scope, at time.Time) error {
	r.mu.Lock()
	if r.touches == nil {
		r.touches = make(map[string]int)
	}
	r.touches[scope.String()]++
	r.mu.Unlock()
	return r.PresenceRepository.Touch(ctx, scope, at)
}

func (r *countingPresenceRepo) count(scope entity.Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touches[scope.String()]
}
