// Package docstore is the document-store capability the rest of the service
// is written against: keyed documents in hierarchical collections, filtered
// and ordered queries with cursor pagination, live listeners, optimistic
// transactions and atomic batches.
//
// Paths alternate collection and document ids, e.g. "users/u1" or
// "chats/a_b/messages/m1". A collection path has an odd number of segments.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound       = errors.New("docstore: document not found")
	ErrReadAfterWrite = errors.New("docstore: transaction reads must come before writes")

	// ErrTxConflict is returned when a transaction keeps losing to concurrent
	// writers after all retry attempts.
	ErrTxConflict = errors.New("docstore: transaction conflict")
)

// MaxTxAttempts bounds how many times a transaction function is run.
const MaxTxAttempts = 5

type Fields map[string]interface{}

type Op string

const (
	OpEq            Op = "=="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Cursor marks the last document of a page: its value for the order field
// and its id, which breaks ties between equal values.
type Cursor struct {
	Value interface{}
	ID    string
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
	StartAfter *Cursor
}

// Unsubscribe stops a live listener. Calling it more than once is a no-op.
type Unsubscribe func()

type DocumentListener func(doc *Document, err error)

type QueryListener func(docs []*Document, err error)

type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	// Set writes data at path. With merge the given fields are merged into
	// an existing document, otherwise the document is replaced.
	Set(ctx context.Context, path string, data Fields, merge bool) error
	// Update merges data into an existing document and fails with
	// ErrNotFound when there is none.
	Update(ctx context.Context, path string, data Fields) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]*Document, error)

	// WatchDocument delivers the current document (nil when missing) and
	// then every change until ctx ends or the listener is unsubscribed.
	WatchDocument(ctx context.Context, path string, fn DocumentListener) Unsubscribe
	WatchQuery(ctx context.Context, q Query, fn QueryListener) Unsubscribe

	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Batch() Batch

	NewID() string
	Close() error
}

// Tx is a read-then-write transaction. All reads must happen before the
// first write; the writes are applied together only if nothing that was
// read has changed in the meantime.
type Tx interface {
	Get(path string) (*Document, error)
	Set(path string, data Fields, merge bool) error
	Update(path string, data Fields) error
	Delete(path string) error
}

// Batch collects writes that are committed atomically.
type Batch interface {
	Set(path string, data Fields, merge bool) Batch
	Update(path string, data Fields) Batch
	Delete(path string) Batch
	Len() int
	Commit(ctx context.Context) error
}

type arrayUnion struct {
	values []interface{}
}

// ArrayUnion is a field value that appends the given elements to an array
// field, skipping elements already present.
func ArrayUnion(values ...interface{}) interface{} {
	return arrayUnion{values: values}
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func idOf(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
