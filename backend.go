package fireorm

import "context"

// Client is the connection-level handle a backend adapter exposes. The
// underlying driver (connection, auth, wire protocol) stays inside the
// adapter; fireorm only sees collections, batches and transactions.
type Client interface {
	Collection(name string) CollectionRef
	Batch() WriteBatch
	RunTransaction(ctx context.Context, fn func(tx Transaction) error) error
}

// CollectionRef is a handle to one collection. It doubles as the root Query
// the executor compiles clauses onto.
type CollectionRef interface {
	Query

	// Doc returns a reference to the document with the given id.
	Doc(id string) DocumentRef
	// NewDoc returns a reference to a not-yet-written document with a fresh
	// backend-generated id.
	NewDoc() DocumentRef
}

// Query is the chainable backend query surface. Implementations return a
// derived query from every call; the receiver is never mutated, so a
// CollectionRef can be reused as the root of many queries.
type Query interface {
	Where(path string, op Operator, value any) Query
	OrderBy(path string, dir Direction) Query
	StartAt(values ...any) Query
	StartAfter(values ...any) Query
	EndAt(values ...any) Query
	EndBefore(values ...any) Query
	Offset(n int) Query
	Limit(n int) Query

	// Documents runs the query and returns the matching snapshots in result
	// order.
	Documents(ctx context.Context) ([]DocumentSnapshot, error)
	// Count runs a count-only variant of the query. ok is false when the
	// backend reported no count value at all.
	Count(ctx context.Context) (n int64, ok bool, err error)
}

// DocumentRef is a handle to one document.
type DocumentRef interface {
	ID() string
	Get(ctx context.Context) (DocumentSnapshot, error)
	Set(ctx context.Context, data map[string]any) error
	Delete(ctx context.Context) error
}

// DocumentSnapshot is one read result. Get on a missing document returns a
// snapshot with Exists() == false rather than an error.
type DocumentSnapshot interface {
	ID() string
	Exists() bool
	Data() map[string]any
	// DataTo hydrates the snapshot fields into dst, which must be a pointer
	// to a struct. The document id is not part of the snapshot data.
	DataTo(dst any) error
}

// WriteBatch stages writes that are committed in one backend round trip.
type WriteBatch interface {
	Set(ref DocumentRef, data map[string]any)
	Delete(ref DocumentRef)
	Commit(ctx context.Context) error
}

// Transaction is the read/write surface available inside RunTransaction.
type Transaction interface {
	Get(ref DocumentRef) (DocumentSnapshot, error)
	Set(ref DocumentRef, data map[string]any) error
	Delete(ref DocumentRef) error
}

// CustomQueryFunc is an optional caller-supplied transform applied to the
// fully compiled query right before execution. It receives the compiled
// query and the untouched collection root; its return value is executed.
// It runs after every other compile step, so it cannot reorder the clauses
// applied before it.
type CustomQueryFunc func(ctx context.Context, q Query, ref CollectionRef) (Query, error)
