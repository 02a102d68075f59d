package docstore

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Transactions are optimistic: every
// document read inside one is versioned and the commit is rejected when any
// of those versions moved, after which the transaction function is run again.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]*memoryDoc
	version  uint64
	watchers map[uint64]*memoryWatcher
	nextID   uint64
	hook     func(paths []string) error
	closed   chan struct{}
	once     sync.Once
}

type memoryDoc struct {
	data    Fields
	version uint64
}

type writeKind int

const (
	writeSet writeKind = iota
	writeMerge
	writeUpdate
	writeDelete
)

type memoryWrite struct {
	kind writeKind
	path string
	data Fields
}

type memoryWatcher struct {
	path       string
	collection string
	notify     chan struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]*memoryDoc),
		watchers: make(map[uint64]*memoryWatcher),
		closed:   make(chan struct{}),
	}
}

// SetCommitHook installs fn to run before any write is applied, with the
// paths about to be written. A non-nil error aborts the whole commit.
// fn runs under the store lock and must not call back into the store.
func (m *Memory) SetCommitHook(fn func(paths []string) error) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return newDocument(path, copyFields(d.data)), nil
}

func (m *Memory) Set(ctx context.Context, path string, data Fields, merge bool) error {
	kind := writeSet
	if merge {
		kind = writeMerge
	}
	return m.write(ctx, memoryWrite{kind: kind, path: path, data: data})
}

func (m *Memory) Update(ctx context.Context, path string, data Fields) error {
	return m.write(ctx, memoryWrite{kind: writeUpdate, path: path, data: data})
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.write(ctx, memoryWrite{kind: writeDelete, path: path})
}

func (m *Memory) write(ctx context.Context, w memoryWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(nil, []memoryWrite{w})
}

func (m *Memory) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var docs []*Document
	for path, d := range m.docs {
		if parentOf(path) == q.Collection {
			docs = append(docs, newDocument(path, copyFields(d.data)))
		}
	}
	m.mu.Unlock()

	return runQuery(docs, q), nil
}

func runQuery(docs []*Document, q Query) []*Document {
	out := docs[:0]
	for _, d := range docs {
		if matchesAll(d, q.Filters) {
			out = append(out, d)
		}
	}
	docs = out

	if q.OrderBy == "" {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	} else {
		// Documents without the order field never appear in ordered results.
		out = docs[:0]
		for _, d := range docs {
			if d.Has(q.OrderBy) {
				out = append(out, d)
			}
		}
		docs = out

		sort.SliceStable(docs, func(i, j int) bool {
			c := compareKeys(docs[i].Data[q.OrderBy], docs[i].ID, docs[j].Data[q.OrderBy], docs[j].ID)
			if q.Direction == Desc {
				return c > 0
			}
			return c < 0
		})

		if q.StartAfter != nil {
			out = docs[:0]
			for _, d := range docs {
				c := compareKeys(d.Data[q.OrderBy], d.ID, q.StartAfter.Value, q.StartAfter.ID)
				if (q.Direction == Desc && c < 0) || (q.Direction == Asc && c > 0) {
					out = append(out, d)
				}
			}
			docs = out
		}
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func (m *Memory) WatchDocument(ctx context.Context, path string, fn DocumentListener) Unsubscribe {
	w := &memoryWatcher{path: path, notify: make(chan struct{}, 1)}
	return m.watch(ctx, w, func(ctx context.Context) {
		doc, err := m.Get(ctx, path)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrNotFound) {
			fn(nil, nil)
			return
		}
		fn(doc, err)
	})
}

func (m *Memory) WatchQuery(ctx context.Context, q Query, fn QueryListener) Unsubscribe {
	w := &memoryWatcher{collection: q.Collection, notify: make(chan struct{}, 1)}
	return m.watch(ctx, w, func(ctx context.Context) {
		docs, err := m.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	})
}

// watch registers w and delivers the first snapshot right away; later
// snapshots follow commits touching the watched path or collection. Bursts
// of commits coalesce into one delivery.
func (m *Memory) watch(ctx context.Context, w *memoryWatcher, deliver func(ctx context.Context)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)

	w.notify <- struct{}{}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = w
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			case <-w.notify:
				deliver(ctx)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt < MaxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memoryTx{store: m, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		err := m.commit(tx.reads, tx.writes)
		if errors.Is(err, ErrTxConflict) {
			continue
		}
		return err
	}
	return ErrTxConflict
}

func (m *Memory) Batch() Batch {
	return &memoryBatch{store: m}
}

func (m *Memory) NewID() string {
	return uuid.NewString()
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// commit applies writes atomically provided every path in reads still has
// the version recorded when it was read (0 for a missing document).
func (m *Memory) commit(reads map[string]uint64, writes []memoryWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, v := range reads {
		if m.versionOf(path) != v {
			return ErrTxConflict
		}
	}

	if len(writes) == 0 {
		return nil
	}

	if m.hook != nil {
		paths := make([]string, 0, len(writes))
		for _, w := range writes {
			paths = append(paths, w.path)
		}
		if err := m.hook(paths); err != nil {
			return err
		}
	}

	// A nil entry marks a staged delete.
	staged := make(map[string]*memoryDoc, len(writes))
	current := func(path string) *memoryDoc {
		if d, ok := staged[path]; ok {
			return d
		}
		return m.docs[path]
	}

	for _, w := range writes {
		cur := current(w.path)
		switch w.kind {
		case writeDelete:
			staged[w.path] = nil
		case writeSet:
			staged[w.path] = &memoryDoc{data: applyFields(Fields{}, w.data)}
		case writeMerge, writeUpdate:
			if cur == nil {
				if w.kind == writeUpdate {
					return ErrNotFound
				}
				staged[w.path] = &memoryDoc{data: applyFields(Fields{}, w.data)}
				continue
			}
			staged[w.path] = &memoryDoc{data: applyFields(copyFields(cur.data), w.data)}
		}
	}

	m.version++
	for path, d := range staged {
		if d == nil {
			delete(m.docs, path)
			continue
		}
		d.version = m.version
		m.docs[path] = d
	}

	for _, w := range m.watchers {
		for path := range staged {
			if w.path == path || (w.collection != "" && parentOf(path) == w.collection) {
				select {
				case w.notify <- struct{}{}:
				default:
				}
				break
			}
		}
	}
	return nil
}

func (m *Memory) versionOf(path string) uint64 {
	if d, ok := m.docs[path]; ok {
		return d.version
	}
	return 0
}

type memoryTx struct {
	store  *Memory
	reads  map[string]uint64
	writes []memoryWrite
}

func (t *memoryTx) Get(path string) (*Document, error) {
	if len(t.writes) > 0 {
		return nil, ErrReadAfterWrite
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	d, ok := t.store.docs[path]
	if !ok {
		t.reads[path] = 0
		return nil, ErrNotFound
	}
	t.reads[path] = d.version
	return newDocument(path, copyFields(d.data)), nil
}

func (t *memoryTx) Set(path string, data Fields, merge bool) error {
	kind := writeSet
	if merge {
		kind = writeMerge
	}
	t.writes = append(t.writes, memoryWrite{kind: kind, path: path, data: data})
	return nil
}

func (t *memoryTx) Update(path string, data Fields) error {
	t.writes = append(t.writes, memoryWrite{kind: writeUpdate, path: path, data: data})
	return nil
}

func (t *memoryTx) Delete(path string) error {
	t.writes = append(t.writes, memoryWrite{kind: writeDelete, path: path})
	return nil
}

type memoryBatch struct {
	store  *Memory
	writes []memoryWrite
}

func (b *memoryBatch) Set(path string, data Fields, merge bool) Batch {
	kind := writeSet
	if merge {
		kind = writeMerge
	}
	b.writes = append(b.writes, memoryWrite{kind: kind, path: path, data: data})
	return b
}

func (b *memoryBatch) Update(path string, data Fields) Batch {
	b.writes = append(b.writes, memoryWrite{kind: writeUpdate, path: path, data: data})
	return b
}

func (b *memoryBatch) Delete(path string) Batch {
	b.writes = append(b.writes, memoryWrite{kind: writeDelete, path: path})
	return b
}

func (b *memoryBatch) Len() int {
	return len(b.writes)
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.store.commit(nil, b.writes)
}

func applyFields(base, data Fields) Fields {
	for k, v := range data {
		if au, ok := v.(arrayUnion); ok {
			existing := toSlice(base[k])
			for _, e := range au.values {
				if !containsValue(existing, e) {
					existing = append(existing, e)
				}
			}
			base[k] = existing
			continue
		}
		base[k] = copyValue(v)
	}
	return base
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]interface{}:
		return map[string]interface{}(copyFields(Fields(t)))
	case Fields:
		return copyFields(t)
	}
	return v
}

func toSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return append([]interface{}(nil), t...)
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func containsValue(values []interface{}, v interface{}) bool {
	for _, e := range values {
		if equalValues(e, v) {
			return true
		}
	}
	return false
}

func matchesAll(d *Document, filters []Filter) bool {
	for _, f := range filters {
		if !matches(d, f) {
			return false
		}
	}
	return true
}

func matches(d *Document, f Filter) bool {
	v, ok := d.Data[f.Field]
	if !ok {
		return false
	}

	switch f.Op {
	case OpArrayContains:
		return containsValue(toSlice(v), f.Value)
	case OpEq:
		return equalValues(v, f.Value)
	}

	c, ok := compareValues(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func compareKeys(av interface{}, aID string, bv interface{}, bID string) int {
	if c, ok := compareValues(av, bv); ok && c != 0 {
		return c
	}
	return strings.Compare(aID, bID)
}

// compareValues orders two values of the same kind; ok is false when the
// kinds differ or are not ordered.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(at, bt), true
	case time.Time:
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	case bool:
		bt, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case at == bt:
			return 0, true
		case !at:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
