package usecase

import (
	"context"

	"topicmeet/internal/infrastructure/firebase"
)

type FirebaseAuthClient interface {
	CreateUser(ctx context.Context, email, password, displayName string) (string, error)
	DeleteUser(ctx context.Context, uid string) error
	VerifyToken(ctx context.Context, token string) (string, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
	SignInWithEmailPassword(ctx context.Context, email, password string) (*firebase.SignInResult, error)
}
