package repository

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Unsubscribe stops a live listener.
type Unsubscribe func()

// PageCursor is the position after which the next page starts: the ordering
// timestamp and id of the last item already returned.
type PageCursor struct {
	At time.Time
	ID string
}
