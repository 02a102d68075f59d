package entity

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

type FriendRequest struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Status    RequestStatus `json:"status"`
	Topic     string        `json:"topic,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	FromName  string        `json:"from_name,omitempty"`
	ToName    string        `json:"to_name,omitempty"`
}

// FriendRequestID is the deterministic key of the directed request from -> to.
// The reverse direction has a different key.
func FriendRequestID(from, to string) string {
	return from + "_" + to
}

// Friend is one direction of a friendship edge as seen by its owner.
type Friend struct {
	UserID   string    `json:"-"`
	FriendID string    `json:"friend_id"`
	Since    time.Time `json:"since"`
	Topic    string    `json:"topic,omitempty"`
	Name     string    `json:"name,omitempty"`
	ChatID   string    `json:"chat_id"`
}
