package entity

import "time"

type MessageStatus string

const (
	MessageSent MessageStatus = "sent"
	MessageSeen MessageStatus = "seen"
)

// Message lives either in a one-to-one chat or in a topic's group chat.
type Message struct {
	ID        string        `json:"id"`
	SenderID  string        `json:"sender_id"`
	Text      string        `json:"text"`
	ImageURL  string        `json:"image_url,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	ReadBy    []string      `json:"read_by"`
}

func (m *Message) IsReadBy(uid string) bool {
	for _, id := range m.ReadBy {
		if id == uid {
			return true
		}
	}
	return false
}
