package repository

import (
	"context"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/domain/repository"
	"topicmeet/internal/infrastructure/docstore"
)

type userRepository struct {
	store docstore.Store
}

func NewUserRepository(store docstore.Store) repository.UserRepository {
	return &userRepository{
		store: store,
	}
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	return r.store.Set(ctx, userPath(user.ID), docstore.Fields{
		"name":         user.Name,
		"age":          user.Age,
		"gender":       user.Gender,
		"bio":          user.Bio,
		"email":        user.Email,
		"profileImage": user.ProfileImage,
		"createdAt":    user.CreatedAt,
		"lastActive":   user.LastActive,
	}, false)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	doc, err := r.store.Get(ctx, userPath(id))
	if err != nil {
		return nil, mapErr(err)
	}

	return &entity.User{
		ID:           doc.ID,
		Name:         doc.String("name"),
		Age:          doc.Int("age"),
		Gender:       doc.String("gender"),
		Bio:          doc.String("bio"),
		Email:        doc.String("email"),
		ProfileImage: doc.String("profileImage"),
		CreatedAt:    doc.Time("createdAt"),
		LastActive:   doc.Time("lastActive"),
	}, nil
}

// UpdateProfile writes the editable profile fields. Bio is written even when
// empty so it can be cleared.
func (r *userRepository) UpdateProfile(ctx context.Context, user *entity.User) error {
	err := r.store.Update(ctx, userPath(user.ID), docstore.Fields{
		"name":       user.Name,
		"age":        user.Age,
		"gender":     user.Gender,
		"bio":        user.Bio,
		"lastActive": user.LastActive,
	})
	return mapErr(err)
}

func (r *userRepository) SetProfileImage(ctx context.Context, id, url string) error {
	err := r.store.Update(ctx, userPath(id), docstore.Fields{"profileImage": url})
	return mapErr(err)
}
