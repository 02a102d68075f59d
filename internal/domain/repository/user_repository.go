package repository

import (
	"context"

	"topicmeet/internal/domain/entity"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	UpdateProfile(ctx context.Context, user *entity.User) error
	SetProfileImage(ctx context.Context, id, url string) error
}
