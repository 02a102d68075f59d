package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jonboulle/clockwork"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/ratelimit"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

type UserUseCase struct {
	userRepo    repository.UserRepository
	blobs       service.BlobStore
	rateLimiter *ratelimit.RateLimiter
	clock       clockwork.Clock
}

func NewUserUseCase(userRepo repository.UserRepository, blobs service.BlobStore, rateLimiter *ratelimit.RateLimiter, clock clockwork.Clock) *UserUseCase {
	return &UserUseCase{
		userRepo:    userRepo,
		blobs:       blobs,
		rateLimiter: rateLimiter,
		clock:       clock,
	}
}

type UpdateProfileInput struct {
	Name   string
	Age    int
	Gender string
	Bio    string
}

func (uc *UserUseCase) GetProfile(ctx context.Context, uid string) (*entity.User, error) {
	user, err := uc.userRepo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User", err)
		}
		return nil, apperrors.Internal("Failed to load user", err)
	}
	return user, nil
}

// GetPublicProfile is what other users see: no email.
func (uc *UserUseCase) GetPublicProfile(ctx context.Context, uid string) (*entity.User, error) {
	user, err := uc.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (uc *UserUseCase) UpdateProfile(ctx context.Context, uid string, input UpdateProfileInput) (*entity.User, error) {
	name := strings.TrimSpace(input.Name)
	gender := strings.TrimSpace(input.Gender)
	if name == "" || input.Age <= 0 || gender == "" {
		return nil, apperrors.BadRequest("Name, age and gender are required", nil)
	}

	user, err := uc.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	user.Name = name
	user.Age = input.Age
	user.Gender = gender
	user.Bio = strings.TrimSpace(input.Bio)
	user.LastActive = uc.clock.Now()

	if err := uc.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, apperrors.Internal("Failed to update user profile", err)
	}
	return user, nil
}

// UploadProfileImage stores the picture as profilePics/{uid}_{unix} and
// points the profile at it.
func (uc *UserUseCase) UploadProfileImage(ctx context.Context, uid string, r io.Reader, contentType string) (*entity.User, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperrors.BadRequest("Only images can be uploaded", nil)
	}
	if uc.rateLimiter != nil {
		if ok, _ := uc.rateLimiter.Allow(uid, ratelimit.ActionUpload); !ok {
			return nil, apperrors.TooManyRequests("Too many uploads. Please try again later")
		}
	}

	user, err := uc.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("profilePics/%s_%d", uid, uc.clock.Now().Unix())
	url, err := uc.blobs.Upload(ctx, name, r, contentType)
	if err != nil {
		return nil, apperrors.Internal("Failed to upload profile image", err)
	}

	if err := uc.userRepo.SetProfileImage(ctx, uid, url); err != nil {
		if derr := uc.blobs.Delete(ctx, name); derr != nil {
			logger.Warn("Failed to delete orphaned profile image %s: %v", name, derr)
		}
		return nil, apperrors.Internal("Failed to update profile image", err)
	}

	user.ProfileImage = url
	return user, nil
}
