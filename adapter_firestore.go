package fireorm

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// countAlias keys the count value in Firestore aggregation results.
const countAlias = "count"

// NewFirestoreClient adapts a Firestore client to the fireorm backend
// contract. Query clauses map one to one onto the Firestore SDK; counts go
// through an aggregation query.
func NewFirestoreClient(c *firestore.Client) Client {
	return &firestoreClient{c: c}
}

type firestoreClient struct {
	c *firestore.Client
}

func (f *firestoreClient) Collection(name string) CollectionRef {
	ref := f.c.Collection(name)
	return &firestoreCollection{ref: ref, firestoreQuery: firestoreQuery{q: ref.Query}}
}

func (f *firestoreClient) Batch() WriteBatch {
	return &firestoreBatch{c: f.c}
}

func (f *firestoreClient) RunTransaction(ctx context.Context, fn func(tx Transaction) error) error {
	return f.c.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return fn(&firestoreTransaction{tx: tx})
	})
}

type firestoreCollection struct {
	firestoreQuery
	ref *firestore.CollectionRef
}

func (c *firestoreCollection) Doc(id string) DocumentRef {
	return &firestoreDoc{ref: c.ref.Doc(id)}
}

func (c *firestoreCollection) NewDoc() DocumentRef {
	return &firestoreDoc{ref: c.ref.NewDoc()}
}

type firestoreQuery struct {
	q firestore.Query
}

func (q firestoreQuery) Where(path string, op Operator, value any) Query {
	return firestoreQuery{q: q.q.Where(path, string(op), value)}
}

func (q firestoreQuery) OrderBy(path string, dir Direction) Query {
	d := firestore.Asc
	if dir == Descending {
		d = firestore.Desc
	}
	return firestoreQuery{q: q.q.OrderBy(path, d)}
}

func (q firestoreQuery) StartAt(values ...any) Query {
	return firestoreQuery{q: q.q.StartAt(values...)}
}

func (q firestoreQuery) StartAfter(values ...any) Query {
	return firestoreQuery{q: q.q.StartAfter(values...)}
}

func (q firestoreQuery) EndAt(values ...any) Query {
	return firestoreQuery{q: q.q.EndAt(values...)}
}

func (q firestoreQuery) EndBefore(values ...any) Query {
	return firestoreQuery{q: q.q.EndBefore(values...)}
}

func (q firestoreQuery) Offset(n int) Query {
	return firestoreQuery{q: q.q.Offset(n)}
}

func (q firestoreQuery) Limit(n int) Query {
	return firestoreQuery{q: q.q.Limit(n)}
}

func (q firestoreQuery) Documents(ctx context.Context) ([]DocumentSnapshot, error) {
	iter := q.q.Documents(ctx)
	defer iter.Stop()

	var out []DocumentSnapshot
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &firestoreSnapshot{snap: snap})
	}
}

func (q firestoreQuery) Count(ctx context.Context) (int64, bool, error) {
	res, err := q.q.NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err != nil {
		return 0, false, err
	}
	raw, ok := res[countAlias]
	if !ok {
		return 0, false, nil
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, false, nil
	}
	return value.GetIntegerValue(), true, nil
}

type firestoreDoc struct {
	ref *firestore.DocumentRef
}

func (d *firestoreDoc) ID() string { return d.ref.ID }

func (d *firestoreDoc) Get(ctx context.Context) (DocumentSnapshot, error) {
	snap, err := d.ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return &firestoreSnapshot{snap: snap, missing: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &firestoreSnapshot{snap: snap}, nil
}

func (d *firestoreDoc) Set(ctx context.Context, data map[string]any) error {
	_, err := d.ref.Set(ctx, data)
	return err
}

func (d *firestoreDoc) Delete(ctx context.Context) error {
	_, err := d.ref.Delete(ctx)
	return err
}

type firestoreSnapshot struct {
	snap    *firestore.DocumentSnapshot
	missing bool
}

func (s *firestoreSnapshot) ID() string {
	if s.snap == nil {
		return ""
	}
	return s.snap.Ref.ID
}

func (s *firestoreSnapshot) Exists() bool {
	return !s.missing && s.snap != nil && s.snap.Exists()
}

func (s *firestoreSnapshot) Data() map[string]any {
	if !s.Exists() {
		return nil
	}
	return s.snap.Data()
}

func (s *firestoreSnapshot) DataTo(dst any) error {
	return decodeDocument(s.Data(), dst)
}

// firestoreBatch stages writes and flushes them through a BulkWriter on
// Commit. The first write failure aborts the commit.
type firestoreBatch struct {
	c   *firestore.Client
	ops []batchOp
}

func (b *firestoreBatch) Set(ref DocumentRef, data map[string]any) {
	b.ops = append(b.ops, batchOp{ref: ref, data: data})
}

func (b *firestoreBatch) Delete(ref DocumentRef) {
	b.ops = append(b.ops, batchOp{ref: ref, delete: true})
}

func (b *firestoreBatch) Commit(ctx context.Context) error {
	bw := b.c.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(b.ops))
	for _, op := range b.ops {
		ref, err := firestoreRefOf(op.ref)
		if err != nil {
			bw.End()
			return err
		}
		var job *firestore.BulkWriterJob
		if op.delete {
			job, err = bw.Delete(ref)
		} else {
			job, err = bw.Set(ref, op.data)
		}
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

type firestoreTransaction struct {
	tx *firestore.Transaction
}

func (t *firestoreTransaction) Get(ref DocumentRef) (DocumentSnapshot, error) {
	fsRef, err := firestoreRefOf(ref)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(fsRef)
	if status.Code(err) == codes.NotFound {
		return &firestoreSnapshot{snap: snap, missing: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &firestoreSnapshot{snap: snap}, nil
}

func (t *firestoreTransaction) Set(ref DocumentRef, data map[string]any) error {
	fsRef, err := firestoreRefOf(ref)
	if err != nil {
		return err
	}
	return t.tx.Set(fsRef, data)
}

func (t *firestoreTransaction) Delete(ref DocumentRef) error {
	fsRef, err := firestoreRefOf(ref)
	if err != nil {
		return err
	}
	return t.tx.Delete(fsRef)
}

func firestoreRefOf(ref DocumentRef) (*firestore.DocumentRef, error) {
	d, ok := ref.(*firestoreDoc)
	if !ok {
		return nil, fmt.Errorf("fireorm: document ref %T does not belong to the firestore backend", ref)
	}
	return d.ref, nil
}
