package fireorm

import "context"

// maxBatchWrites is the backend cap on operations per committed batch.
// Larger batches are split transparently.
const maxBatchWrites = 500

type batchOp struct {
	ref    DocumentRef
	data   map[string]any // nil for deletes
	delete bool
}

// Batch stages create/update/delete operations and commits them in chunks of
// at most maxBatchWrites per backend round trip. Like the query builder, the
// staging methods chain and a staging error is surfaced by Commit.
type Batch[T any] struct {
	repo *Repository[T]
	ops  []batchOp
	err  error
}

// NewBatch starts an empty write batch over the repository's collection.
func (r *Repository[T]) NewBatch() *Batch[T] {
	return &Batch[T]{repo: r}
}

// Create stages a new entity write, minting an id and stamping audit fields
// exactly as Repository.Create does.
func (b *Batch[T]) Create(entity *T) *Batch[T] {
	if b.err != nil {
		return b
	}
	if err := b.repo.validate(entity); err != nil {
		b.err = err
		return b
	}
	ref := b.repo.docRef(entity)
	b.repo.meta.stamp(entity, b.repo.now(), true)
	b.ops = append(b.ops, batchOp{ref: ref, data: b.repo.meta.encode(entity)})
	return b
}

// Update stages a rewrite of an existing entity.
func (b *Batch[T]) Update(entity *T) *Batch[T] {
	if b.err != nil {
		return b
	}
	if err := b.repo.validate(entity); err != nil {
		b.err = err
		return b
	}
	id := b.repo.meta.id(entity)
	if id == "" {
		b.err = errRequiresID("batch update")
		return b
	}
	b.repo.meta.stamp(entity, b.repo.now(), false)
	b.ops = append(b.ops, batchOp{ref: b.repo.ref.Doc(id), data: b.repo.meta.encode(entity)})
	return b
}

// Delete stages removal of the entity's document.
func (b *Batch[T]) Delete(entity *T) *Batch[T] {
	if b.err != nil {
		return b
	}
	id := b.repo.meta.id(entity)
	if id == "" {
		b.err = errRequiresID("batch delete")
		return b
	}
	b.ops = append(b.ops, batchOp{ref: b.repo.ref.Doc(id), delete: true})
	return b
}

// Len reports the number of staged operations.
func (b *Batch[T]) Len() int { return len(b.ops) }

// Commit flushes the staged operations. Chunks commit in staging order; on a
// chunk failure the remaining chunks are not attempted.
func (b *Batch[T]) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	for start := 0; start < len(b.ops); start += maxBatchWrites {
		end := min(start+maxBatchWrites, len(b.ops))
		wb := b.repo.client.Batch()
		for _, op := range b.ops[start:end] {
			if op.delete {
				wb.Delete(op.ref)
			} else {
				wb.Set(op.ref, op.data)
			}
		}
		if err := wb.Commit(ctx); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
