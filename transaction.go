package fireorm

import (
	"context"
	"fmt"
)

// RunTransaction runs fn inside a backend transaction, handing it a
// repository view whose reads and writes all go through that transaction.
// fn returning an error aborts the transaction.
func (r *Repository[T]) RunTransaction(ctx context.Context, fn func(tr *TransactionRepository[T]) error) error {
	return r.client.RunTransaction(ctx, func(tx Transaction) error {
		return fn(&TransactionRepository[T]{repo: r, tx: tx})
	})
}

// TransactionRepository is the transactional counterpart of Repository. It
// carries the same create/update/delete contract (id minting, audit
// stamping, validation) but executes against the enclosing transaction.
type TransactionRepository[T any] struct {
	repo *Repository[T]
	tx   Transaction
}

// FindByID reads one entity through the transaction.
func (t *TransactionRepository[T]) FindByID(id string) (*T, error) {
	snap, err := t.tx.Get(t.repo.ref.Doc(id))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, t.repo.meta.collection, id)
	}
	return hydrate[T](snap, t.repo.meta)
}

// Create stages a new entity write in the transaction.
func (t *TransactionRepository[T]) Create(entity *T) (*T, error) {
	if err := t.repo.validate(entity); err != nil {
		return nil, err
	}
	ref := t.repo.docRef(entity)
	t.repo.meta.stamp(entity, t.repo.now(), true)
	if err := t.tx.Set(ref, t.repo.meta.encode(entity)); err != nil {
		return nil, err
	}
	return entity, nil
}

// Update stages a rewrite of an existing entity in the transaction.
func (t *TransactionRepository[T]) Update(entity *T) (*T, error) {
	if err := t.repo.validate(entity); err != nil {
		return nil, err
	}
	id := t.repo.meta.id(entity)
	if id == "" {
		return nil, errRequiresID("transactional update")
	}
	t.repo.meta.stamp(entity, t.repo.now(), false)
	if err := t.tx.Set(t.repo.ref.Doc(id), t.repo.meta.encode(entity)); err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete stages removal of the entity's document in the transaction.
func (t *TransactionRepository[T]) Delete(entity *T) error {
	id := t.repo.meta.id(entity)
	if id == "" {
		return errRequiresID("transactional delete")
	}
	return t.tx.Delete(t.repo.ref.Doc(id))
}
