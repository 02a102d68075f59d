package entity

import (
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Age          int       `json:"age,omitempty"`
	Gender       string    `json:"gender,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Email        string    `json:"email,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// Public strips fields only the owner may see.
func (u *User) Public() *User {
	p := *u
	p.Email = ""
	return &p
}

// DisplayName falls back to "Anonymous" for users who never set a name.
func (u *User) DisplayName() string {
	if u == nil || u.Name == "" {
		return "Anonymous"
	}
	return u.Name
}
