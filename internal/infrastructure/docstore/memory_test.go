package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetMergeUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "users/u1", Fields{"name": "Ann", "age": 30}, false))
	require.NoError(t, m.Set(ctx, "users/u1", Fields{"bio": "hi"}, true))

	doc, err := m.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
	assert.Equal(t, "Ann", doc.String("name"))
	assert.Equal(t, 30, doc.Int("age"))
	assert.Equal(t, "hi", doc.String("bio"))

	require.NoError(t, m.Set(ctx, "users/u1", Fields{"name": "Bea"}, false))
	doc, err = m.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.False(t, doc.Has("bio"), "set without merge replaces the document")

	err = m.Update(ctx, "users/missing", Fields{"name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(ctx, "users/u1"))
	_, err = m.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "chats/a_b", Fields{"users": []string{"a", "b"}}, false))

	doc, err := m.Get(ctx, "chats/a_b")
	require.NoError(t, err)
	doc.Data["users"] = []string{"x"}

	doc, err = m.Get(ctx, "chats/a_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, doc.Strings("users"))
}

func TestMemoryArrayUnion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "chats/c/messages/m1", Fields{"readBy": []string{"a"}}, false))

	require.NoError(t, m.Update(ctx, "chats/c/messages/m1", Fields{"readBy": ArrayUnion("b", "a")}))

	doc, err := m.Get(ctx, "chats/c/messages/m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, doc.Strings("readBy"))
}

func TestMemoryQueryFiltersOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, m.Set(ctx, "chats/c/messages/"+id, Fields{
			"senderId":  []string{"a", "b"}[i%2],
			"timestamp": base.Add(time.Duration(i) * time.Minute),
		}, false))
	}
	// Same timestamp as m4; the id breaks the tie.
	require.NoError(t, m.Set(ctx, "chats/c/messages/m5", Fields{"senderId": "a", "timestamp": base.Add(3 * time.Minute)}, false))
	require.NoError(t, m.Set(ctx, "chats/other/messages/x", Fields{"senderId": "a", "timestamp": base}, false))

	page, err := m.Query(ctx, Query{
		Collection: "chats/c/messages",
		OrderBy:    "timestamp",
		Direction:  Desc,
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"m5", "m4"}, ids(page))

	last := page[len(page)-1]
	page, err = m.Query(ctx, Query{
		Collection: "chats/c/messages",
		OrderBy:    "timestamp",
		Direction:  Desc,
		Limit:      2,
		StartAfter: &Cursor{Value: last.Time("timestamp"), ID: last.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, ids(page))

	fromA, err := m.Query(ctx, Query{
		Collection: "chats/c/messages",
		Filters:    []Filter{Where("senderId", OpEq, "a")},
		OrderBy:    "timestamp",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3", "m5"}, ids(fromA))

	recent, err := m.Query(ctx, Query{
		Collection: "chats/c/messages",
		Filters:    []Filter{Where("timestamp", OpGte, base.Add(2*time.Minute))},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(recent))
}

func TestMemoryArrayContains(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "chats/a_b", Fields{"users": []string{"a", "b"}}, false))
	require.NoError(t, m.Set(ctx, "chats/b_c", Fields{"users": []interface{}{"b", "c"}}, false))

	docs, err := m.Query(ctx, Query{Collection: "chats", Filters: []Filter{Where("users", OpArrayContains, "c")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b_c"}, ids(docs))
}

func TestMemoryTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "counters/c", Fields{"n": 0}, false))

	var attempts int
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		doc, err := tx.Get("counters/c")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer sneaks in between read and commit.
			require.NoError(t, m.Set(ctx, "counters/c", Fields{"n": 10}, false))
		}
		return tx.Set("counters/c", Fields{"n": doc.Int("n") + 1}, false)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, err := m.Get(ctx, "counters/c")
	require.NoError(t, err)
	assert.Equal(t, 11, doc.Int("n"))
}

func TestMemoryTransactionGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var attempts int
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		if _, err := tx.Get("locks/l"); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		require.NoError(t, m.Set(ctx, "locks/l", Fields{"n": attempts}, false))
		return tx.Set("locks/l", Fields{"owner": "me"}, false)
	})
	assert.ErrorIs(t, err, ErrTxConflict)
	assert.Equal(t, MaxTxAttempts, attempts)
}

func TestMemoryTransactionConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "counters/c", Fields{"n": 0}, false))

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
				doc, err := tx.Get("counters/c")
				if err != nil {
					return err
				}
				return tx.Update("counters/c", Fields{"n": doc.Int("n") + 1})
			})
			if err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	doc, err := m.Get(ctx, "counters/c")
	require.NoError(t, err)
	assert.Equal(t, 4-int(failed.Load()), doc.Int("n"), "no lost updates")
}

func TestMemoryTransactionRejectsReadAfterWrite(t *testing.T) {
	m := NewMemory()
	err := m.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Set("a/1", Fields{"x": 1}, false))
		_, err := tx.Get("a/2")
		return err
	})
	assert.ErrorIs(t, err, ErrReadAfterWrite)
}

func TestMemoryCommitHookAbortsWholeBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	injected := errors.New("injected")
	m.SetCommitHook(func(paths []string) error {
		for _, p := range paths {
			if p == "b/2" {
				return injected
			}
		}
		return nil
	})

	err := m.Batch().
		Set("a/1", Fields{"x": 1}, false).
		Set("b/2", Fields{"x": 2}, false).
		Commit(ctx)
	assert.ErrorIs(t, err, injected)

	_, err = m.Get(ctx, "a/1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBatchUpdateOfMissingDocAbortsAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Batch().
		Set("a/1", Fields{"x": 1}, false).
		Update("a/2", Fields{"x": 2}).
		Commit(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(ctx, "a/1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWatchDocument(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var mu sync.Mutex
	var seen []string
	unsub := m.WatchDocument(ctx, "status/u1", func(doc *Document, err error) {
		assert.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		if doc == nil {
			seen = append(seen, "missing")
			return
		}
		seen = append(seen, doc.String("state"))
	})
	defer unsub()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Set(ctx, "status/u1", Fields{"state": "online"}, false))
	require.NoError(t, m.Set(ctx, "status/other", Fields{"state": "ignored"}, false))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == "online"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "missing", seen[0])
	assert.NotContains(t, seen, "ignored")
	mu.Unlock()
}

func TestMemoryWatchQueryStopsAfterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var calls atomic.Int32
	var lastLen atomic.Int32
	unsub := m.WatchQuery(ctx, Query{Collection: "topics"}, func(docs []*Document, err error) {
		assert.NoError(t, err)
		calls.Add(1)
		lastLen.Store(int32(len(docs)))
	})

	require.NoError(t, m.Set(ctx, "topics/t1", Fields{"title": "Coffee"}, false))
	require.Eventually(t, func() bool { return lastLen.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.watchers) == 0
	}, time.Second, 5*time.Millisecond)

	before := calls.Load()
	require.NoError(t, m.Set(ctx, "topics/t2", Fields{"title": "Tea"}, false))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func ids(docs []*Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
