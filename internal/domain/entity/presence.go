package entity

import (
	"fmt"
	"time"
)

// Participant is a user's membership record in a topic. Online is never
// stored; it is derived from LastActive whenever records are read.
type Participant struct {
	TopicKey   string    `json:"topic_key"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	JoinedAt   time.Time `json:"joined_at"`
	LastActive time.Time `json:"last_active"`
	Online     bool      `json:"online"`
}

type JoinedTopic struct {
	TopicKey          string    `json:"topic_key"`
	JoinedAt          time.Time `json:"joined_at"`
	OriginalTopicName string    `json:"original_topic_name"`
}

// OnlineStatus is the one-to-one chat presence document. Online is the
// stored flag; Active additionally requires a fresh LastSeen.
type OnlineStatus struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	Active   bool      `json:"active"`
}

type ScopeKind int

const (
	ScopeStatus ScopeKind = iota
	ScopeParticipant
)

// Scope identifies one presence record a heartbeat keeps fresh.
type Scope struct {
	Kind     ScopeKind
	UserID   string
	TopicKey string
}

func StatusScope(uid string) Scope {
	return Scope{Kind: ScopeStatus, UserID: uid}
}

func ParticipantScope(topicKey, uid string) Scope {
	return Scope{Kind: ScopeParticipant, UserID: uid, TopicKey: topicKey}
}

func (s Scope) String() string {
	if s.Kind == ScopeParticipant {
		return fmt.Sprintf("participant:%s:%s", s.TopicKey, s.UserID)
	}
	return "status:" + s.UserID
}
