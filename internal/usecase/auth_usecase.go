package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/events"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

const minPasswordLength = 6

const (
	signInFailed = "Login failed. Please try again."
	signUpFailed = "Registration failed. Please try again."
)

type AuthUseCase struct {
	userRepo        repository.UserRepository
	participantRepo repository.ParticipantRepository
	presence        *PresenceUseCase
	firebaseAuth    FirebaseAuthClient
	emitter         *events.Emitter
	clock           clockwork.Clock

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(AuthStateEvent)
}

func NewAuthUseCase(
	userRepo repository.UserRepository,
	participantRepo repository.ParticipantRepository,
	presence *PresenceUseCase,
	firebaseAuth FirebaseAuthClient,
	emitter *events.Emitter,
	clock clockwork.Clock,
) *AuthUseCase {
	return &AuthUseCase{
		userRepo:        userRepo,
		participantRepo: participantRepo,
		presence:        presence,
		firebaseAuth:    firebaseAuth,
		emitter:         emitter,
		clock:           clock,
		listeners:       make(map[int]func(AuthStateEvent)),
	}
}

type SignUpInput struct {
	Name     string
	Age      int
	Gender   string
	Bio      string
	Email    string
	Password string
}

type AuthResult struct {
	User         *entity.User  `json:"user"`
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

// AuthStateEvent is delivered to OnAuthStateChanged listeners.
type AuthStateEvent struct {
	UserID   string
	SignedIn bool
}

func (uc *AuthUseCase) SignUp(ctx context.Context, input SignUpInput) (*AuthResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	if input.Name == "" || input.Email == "" || input.Password == "" {
		return nil, apperrors.BadRequest("Name, email and password are required", nil)
	}
	if len(input.Password) < minPasswordLength {
		return nil, authError(service.ErrWeakPassword, signUpFailed)
	}

	uid, err := uc.firebaseAuth.CreateUser(ctx, input.Email, input.Password, input.Name)
	if err != nil {
		logger.Warn("Sign up for %s failed: %v", input.Email, err)
		return nil, authError(err, signUpFailed)
	}

	now := uc.clock.Now()
	user := &entity.User{
		ID:         uid,
		Name:       input.Name,
		Age:        input.Age,
		Gender:     input.Gender,
		Bio:        input.Bio,
		Email:      input.Email,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := uc.userRepo.Create(ctx, user); err != nil {
		if derr := uc.firebaseAuth.DeleteUser(ctx, uid); derr != nil {
			logger.Error("Failed to roll back auth user %s: %v", uid, derr)
		}
		return nil, apperrors.Internal("Failed to create user profile", err)
	}

	session, err := uc.firebaseAuth.SignInWithEmailPassword(ctx, input.Email, input.Password)
	if err != nil {
		return nil, authError(err, signUpFailed)
	}

	uc.notify(AuthStateEvent{UserID: uid, SignedIn: true})
	uc.emitter.Emit(ctx, events.UserSignedUp, uid, map[string]string{"email": user.Email})

	return &AuthResult{
		User:         user,
		Token:        session.IDToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    session.ExpiresIn,
	}, nil
}

func (uc *AuthUseCase) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, authError(service.ErrInvalidCredentials, signInFailed)
	}

	session, err := uc.firebaseAuth.SignInWithEmailPassword(ctx, email, password)
	if err != nil {
		logger.Warn("Sign in for %s failed: %v", email, err)
		return nil, authError(err, signInFailed)
	}

	user, err := uc.userRepo.GetByID(ctx, session.UID)
	if errors.Is(err, repository.ErrNotFound) {
		// Accounts created outside the API have no profile yet.
		now := uc.clock.Now()
		user = &entity.User{ID: session.UID, Email: email, CreatedAt: now, LastActive: now}
		err = uc.userRepo.Create(ctx, user)
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load user profile", err)
	}

	uc.notify(AuthStateEvent{UserID: user.ID, SignedIn: true})

	return &AuthResult{
		User:         user,
		Token:        session.IDToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    session.ExpiresIn,
	}, nil
}

// SignOut removes the user from every topic, marks them offline and
// revokes their refresh tokens. Listeners are told even when the cleanup
// partly failed.
func (uc *AuthUseCase) SignOut(ctx context.Context, uid string) error {
	if n, err := uc.participantRepo.LeaveAll(ctx, uid); err != nil {
		logger.Error("Failed to clear topic memberships of %s: %v", uid, err)
	} else if n > 0 {
		logger.Debug("Removed %s from %d topics on sign out", uid, n)
	}

	uc.presence.StopHeartbeat(ctx, entity.StatusScope(uid))

	err := uc.firebaseAuth.RevokeRefreshTokens(ctx, uid)
	uc.notify(AuthStateEvent{UserID: uid, SignedIn: false})
	if err != nil {
		return apperrors.Internal("Failed to sign out", err)
	}

	uc.emitter.Emit(ctx, events.UserSignedOut, uid, nil)
	return nil
}

// OnAuthStateChanged registers fn for sign-in and sign-out events.
func (uc *AuthUseCase) OnAuthStateChanged(fn func(AuthStateEvent)) repository.Unsubscribe {
	uc.mu.Lock()
	id := uc.nextID
	uc.nextID++
	uc.listeners[id] = fn
	uc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			uc.mu.Lock()
			delete(uc.listeners, id)
			uc.mu.Unlock()
		})
	}
}

func (uc *AuthUseCase) notify(event AuthStateEvent) {
	uc.mu.Lock()
	fns := make([]func(AuthStateEvent), 0, len(uc.listeners))
	for _, fn := range uc.listeners {
		fns = append(fns, fn)
	}
	uc.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

func (uc *AuthUseCase) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.Unauthorized("Missing authentication token", nil)
	}
	uid, err := uc.firebaseAuth.VerifyToken(ctx, token)
	if err != nil {
		return "", apperrors.Unauthorized("Invalid or expired token", err)
	}
	return uid, nil
}

// authError maps provider failures onto the fixed user-facing messages.
func authError(err error, fallback string) *apperrors.AppError {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return apperrors.Auth("Invalid email or password", err)
	case errors.Is(err, service.ErrUserDisabled):
		return apperrors.New(apperrors.CodeAuth, "This account has been disabled", http.StatusForbidden, err)
	case errors.Is(err, service.ErrTooManyAttempts):
		return apperrors.New(apperrors.CodeAuth, "Too many attempts. Please try again later", http.StatusTooManyRequests, err)
	case errors.Is(err, service.ErrAuthNetwork):
		return apperrors.New(apperrors.CodeAuth, "Network error. Please check your connection", http.StatusServiceUnavailable, err)
	case errors.Is(err, service.ErrEmailExists):
		return apperrors.New(apperrors.CodeAuth, "Email already in use", http.StatusConflict, err)
	case errors.Is(err, service.ErrInvalidEmail):
		return apperrors.New(apperrors.CodeAuth, "Please enter a valid email address", http.StatusBadRequest, err)
	case errors.Is(err, service.ErrWeakPassword):
		return apperrors.New(apperrors.CodeAuth, "Password should be at least 6 characters", http.StatusBadRequest, err)
	}
	return apperrors.New(apperrors.CodeAuth, fallback, http.StatusBadRequest, err)
}
