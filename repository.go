package fireorm

import (
	"context"
	"fmt"
	"time"
)

// Repository is the typed persistence surface for one entity collection.
type Repository[T any] struct {
	client Client
	ref    CollectionRef
	meta   *entityMeta
	now    func() time.Time
}

// RepositoryOption configures a Repository at construction time.
type RepositoryOption func(*repositoryConfig)

type repositoryConfig struct {
	collection string
	now        func() time.Time
}

// WithCollectionName overrides the collection name derived from the entity
// type.
func WithCollectionName(name string) RepositoryOption {
	return func(c *repositoryConfig) { c.collection = name }
}

// WithClock overrides the clock used for audit-field stamping.
func WithClock(now func() time.Time) RepositoryOption {
	return func(c *repositoryConfig) { c.now = now }
}

// NewRepository builds a repository for T on the given backend client. T
// must be a struct with a string id field (named ID or tagged fireorm:"id").
func NewRepository[T any](client Client, opts ...RepositoryOption) (*Repository[T], error) {
	meta, err := metaFor[T]()
	if err != nil {
		return nil, err
	}
	cfg := repositoryConfig{collection: meta.collection, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[T]{
		client: client,
		ref:    client.Collection(cfg.collection),
		meta:   meta,
		now:    cfg.now,
	}, nil
}

// Query starts a fresh query expression over the collection.
func (r *Repository[T]) Query() *QueryBuilder[T] {
	return &QueryBuilder[T]{ref: r.ref, meta: r.meta}
}

// FindByID fetches one entity by document id. A missing document yields
// ErrDocumentNotFound.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	snap, err := r.ref.Doc(id).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, r.meta.collection, id)
	}
	return hydrate[T](snap, r.meta)
}

// FindAll returns every entity in the collection.
func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return r.Query().Find(ctx)
}

// Create writes a new entity. An empty id is replaced with a fresh
// backend-generated one; created/updated audit fields are stamped when the
// type declares them; a Validate method is honored before the write.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (*T, error) {
	if err := r.validate(entity); err != nil {
		return nil, err
	}
	ref := r.docRef(entity)
	r.meta.stamp(entity, r.now(), true)
	if err := ref.Set(ctx, r.meta.encode(entity)); err != nil {
		return nil, err
	}
	return entity, nil
}

// Update rewrites an existing entity, stamping the updated-at audit field.
func (r *Repository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	if err := r.validate(entity); err != nil {
		return nil, err
	}
	id := r.meta.id(entity)
	if id == "" {
		return nil, errRequiresID("update")
	}
	r.meta.stamp(entity, r.now(), false)
	if err := r.ref.Doc(id).Set(ctx, r.meta.encode(entity)); err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete removes the entity's document.
func (r *Repository[T]) Delete(ctx context.Context, entity *T) error {
	return r.DeleteByID(ctx, r.meta.id(entity))
}

// DeleteByID removes the document with the given id. Deleting a missing
// document is not an error.
func (r *Repository[T]) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return errRequiresID("delete")
	}
	return r.ref.Doc(id).Delete(ctx)
}

func errRequiresID(op string) error {
	return fmt.Errorf("%w: %s requires an entity id", ErrInvalidQuery, op)
}

func (r *Repository[T]) validate(entity *T) error {
	if v, ok := any(entity).(Validator); ok {
		return v.Validate()
	}
	return nil
}

// docRef resolves the document ref for a write, minting a fresh id into the
// entity when it carries none.
func (r *Repository[T]) docRef(entity *T) DocumentRef {
	if id := r.meta.id(entity); id != "" {
		return r.ref.Doc(id)
	}
	ref := r.ref.NewDoc()
	r.meta.setID(entity, ref.ID())
	return ref
}
