package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestoreStore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) Store {
	return &firestoreStore{client: client}
}

func (s *firestoreStore) doc(path string) (*firestore.DocumentRef, error) {
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("docstore: invalid document path %q", path)
	}
	return ref, nil
}

func (s *firestoreStore) Get(ctx context.Context, path string) (*Document, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return fromSnapshot(snap), nil
}

func (s *firestoreStore) Set(ctx context.Context, path string, data Fields, merge bool) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}

	if merge {
		_, err = ref.Set(ctx, toFirestore(data), firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, toFirestore(data))
	}
	return mapFirestoreErr(err)
}

func (s *firestoreStore) Update(ctx context.Context, path string, data Fields) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}

	_, err = ref.Update(ctx, toUpdates(data))
	return mapFirestoreErr(err)
}

func (s *firestoreStore) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}

	_, err = ref.Delete(ctx)
	return mapFirestoreErr(err)
}

func (s *firestoreStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	fq, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var docs []*Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapFirestoreErr(err)
		}
		docs = append(docs, fromSnapshot(snap))
	}
	return docs, nil
}

func (s *firestoreStore) buildQuery(q Query) (firestore.Query, error) {
	col := s.client.Collection(q.Collection)
	if col == nil {
		return firestore.Query{}, fmt.Errorf("docstore: invalid collection path %q", q.Collection)
	}

	fq := col.Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}

	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir).OrderBy(firestore.DocumentID, dir)
		if q.StartAfter != nil {
			fq = fq.StartAfter(q.StartAfter.Value, q.StartAfter.ID)
		}
	}

	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

func (s *firestoreStore) WatchDocument(ctx context.Context, path string, fn DocumentListener) Unsubscribe {
	ref, err := s.doc(path)
	if err != nil {
		fn(nil, err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	iter := ref.Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				fn(nil, err)
				return
			}
			if !snap.Exists() {
				fn(nil, nil)
				continue
			}
			fn(fromSnapshot(snap), nil)
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (s *firestoreStore) WatchQuery(ctx context.Context, q Query, fn QueryListener) Unsubscribe {
	fq, err := s.buildQuery(q)
	if err != nil {
		fn(nil, err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	iter := fq.Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			qs, err := iter.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				fn(nil, err)
				return
			}

			snaps, err := qs.Documents.GetAll()
			if err != nil {
				fn(nil, err)
				continue
			}
			docs := make([]*Document, 0, len(snaps))
			for _, snap := range snaps {
				docs = append(docs, fromSnapshot(snap))
			}
			fn(docs, nil)
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (s *firestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{store: s, tx: tx})
	}, firestore.MaxAttempts(MaxTxAttempts))
	return mapFirestoreErr(err)
}

func (s *firestoreStore) Batch() Batch {
	return &firestoreBatch{store: s}
}

func (s *firestoreStore) NewID() string {
	return uuid.NewString()
}

func (s *firestoreStore) Close() error {
	return s.client.Close()
}

type firestoreTx struct {
	store *firestoreStore
	tx    *firestore.Transaction
}

func (t *firestoreTx) Get(path string) (*Document, error) {
	ref, err := t.store.doc(path)
	if err != nil {
		return nil, err
	}

	snap, err := t.tx.Get(ref)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return fromSnapshot(snap), nil
}

func (t *firestoreTx) Set(path string, data Fields, merge bool) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	if merge {
		return t.tx.Set(ref, toFirestore(data), firestore.MergeAll)
	}
	return t.tx.Set(ref, toFirestore(data))
}

func (t *firestoreTx) Update(path string, data Fields) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	return t.tx.Update(ref, toUpdates(data))
}

func (t *firestoreTx) Delete(path string) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

// firestoreBatch commits through a transaction so that every write lands
// together or not at all.
type firestoreBatch struct {
	store *firestoreStore
	ops   []func(tx Tx) error
}

func (b *firestoreBatch) Set(path string, data Fields, merge bool) Batch {
	b.ops = append(b.ops, func(tx Tx) error { return tx.Set(path, data, merge) })
	return b
}

func (b *firestoreBatch) Update(path string, data Fields) Batch {
	b.ops = append(b.ops, func(tx Tx) error { return tx.Update(path, data) })
	return b
}

func (b *firestoreBatch) Delete(path string) Batch {
	b.ops = append(b.ops, func(tx Tx) error { return tx.Delete(path) })
	return b
}

func (b *firestoreBatch) Len() int {
	return len(b.ops)
}

func (b *firestoreBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		for _, op := range b.ops {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func fromSnapshot(snap *firestore.DocumentSnapshot) *Document {
	return &Document{
		ID:   snap.Ref.ID,
		Path: trimDocumentsPrefix(snap.Ref.Path),
		Data: Fields(snap.Data()),
	}
}

// Ref.Path is fully qualified: projects/p/databases/d/documents/users/u1.
func trimDocumentsPrefix(path string) string {
	const marker = "/documents/"
	if i := strings.Index(path, marker); i >= 0 {
		return path[i+len(marker):]
	}
	return path
}

func toFirestore(data Fields) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if au, ok := v.(arrayUnion); ok {
			out[k] = firestore.ArrayUnion(au.values...)
			continue
		}
		out[k] = v
	}
	return out
}

func toUpdates(data Fields) []firestore.Update {
	fields := toFirestore(data)
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return updates
}

func mapFirestoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.Aborted:
		return fmt.Errorf("%w: %v", ErrTxConflict, err)
	}
	return err
}
