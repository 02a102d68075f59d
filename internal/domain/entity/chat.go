package entity

import (
	"sort"
	"strings"
	"time"
)

type Chat struct {
	ID        string    `json:"id"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelKey derives the chat id for two users. It does not depend on
// argument order.
func ChannelKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func (c *Chat) HasMember(uid string) bool {
	for _, u := range c.Users {
		if u == uid {
			return true
		}
	}
	return false
}

// Other returns the member that is not uid.
func (c *Chat) Other(uid string) string {
	for _, u := range c.Users {
		if u != uid {
			return u
		}
	}
	return ""
}

type Typing struct {
	UserID    string    `json:"user_id"`
	Typing    bool      `json:"typing"`
	UpdatedAt time.Time `json:"updated_at"`
}
