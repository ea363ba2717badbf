package fireorm

import (
	"context"
	"fmt"
)

// FilterClause is one recorded filter predicate.
type FilterClause struct {
	Path     string
	Operator Operator
	Value    any
}

// OrderSpec is the single active ordering clause of a query.
type OrderSpec struct {
	Path      string
	Direction Direction
}

// queryDescriptor is the immutable snapshot of everything the builder
// accumulated. The executor compiles it clause by clause; the has* flags
// distinguish "unset" from zero values.
type queryDescriptor struct {
	filters []FilterClause
	order   *OrderSpec

	limit     int
	hasLimit  bool
	offset    int
	hasOffset bool

	startAt, startAfter, endAt, endBefore             []any
	hasStartAt, hasStartAfter, hasEndAt, hasEndBefore bool

	custom CustomQueryFunc
}

// QueryBuilder accumulates filter, order, pagination and cursor clauses for
// one query expression against a collection of T. Every chain method returns
// the builder itself; a misused call (see ErrInvalidQuery) records the error
// and leaves all previously accumulated state untouched, and the error is
// surfaced by the terminal Find, FindOne or Count call.
//
// A builder belongs to one logical call chain. It is not safe for concurrent
// use and is not meant to be reused after a terminal call.
type QueryBuilder[T any] struct {
	ref  CollectionRef
	meta *entityMeta

	desc         queryDescriptor
	orderedPaths map[string]bool
	err          error
}

// NewQuery returns a builder over an existing collection reference. Most
// callers reach builders through Repository.Query instead.
func NewQuery[T any](ref CollectionRef) *QueryBuilder[T] {
	b := &QueryBuilder[T]{ref: ref}
	b.meta, b.err = metaFor[T]()
	return b
}

// WhereEqualTo appends a "==" filter. property is either a dot-path string
// or a Property from FieldPath; the same goes for every other filter method.
func (b *QueryBuilder[T]) WhereEqualTo(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorEqual, value)
}

// WhereNotEqualTo appends a "!=" filter.
func (b *QueryBuilder[T]) WhereNotEqualTo(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorNotEqual, value)
}

// WhereGreaterThan appends a ">" filter.
func (b *QueryBuilder[T]) WhereGreaterThan(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorGreaterThan, value)
}

// WhereGreaterOrEqualThan appends a ">=" filter.
func (b *QueryBuilder[T]) WhereGreaterOrEqualThan(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorGreaterOrEqual, value)
}

// WhereLessThan appends a "<" filter.
func (b *QueryBuilder[T]) WhereLessThan(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorLessThan, value)
}

// WhereLessOrEqualThan appends a "<=" filter.
func (b *QueryBuilder[T]) WhereLessOrEqualThan(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorLessOrEqual, value)
}

// WhereArrayContains appends an "array-contains" filter matching documents
// whose array field holds value as a member.
func (b *QueryBuilder[T]) WhereArrayContains(property, value any) *QueryBuilder[T] {
	return b.where(property, OperatorArrayContains, value)
}

// WhereArrayContainsAny appends an "array-contains-any" filter. At most ten
// values are accepted, a backend hard limit.
func (b *QueryBuilder[T]) WhereArrayContainsAny(property any, values ...any) *QueryBuilder[T] {
	return b.whereMany(property, OperatorArrayContainsAny, values)
}

// WhereIn appends an "in" filter. At most ten values are accepted.
func (b *QueryBuilder[T]) WhereIn(property any, values ...any) *QueryBuilder[T] {
	return b.whereMany(property, OperatorIn, values)
}

// WhereNotIn appends a "not-in" filter. At most ten values are accepted.
func (b *QueryBuilder[T]) WhereNotIn(property any, values ...any) *QueryBuilder[T] {
	return b.whereMany(property, OperatorNotIn, values)
}

func (b *QueryBuilder[T]) where(property any, op Operator, value any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	path, err := resolveProperty(property)
	if err != nil {
		b.err = err
		return b
	}
	b.desc.filters = append(b.desc.filters, FilterClause{Path: path, Operator: op, Value: value})
	return b
}

func (b *QueryBuilder[T]) whereMany(property any, op Operator, values []any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if len(values) > maxDisjunctionValues {
		b.err = fmt.Errorf("%w: %s accepts at most %d values, got %d",
			ErrInvalidQuery, op, maxDisjunctionValues, len(values))
		return b
	}
	return b.where(property, op, values)
}

// Limit caps the number of results. It can be set once per expression.
func (b *QueryBuilder[T]) Limit(n int) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasLimit {
		b.err = fmt.Errorf("%w: limit cannot be set more than once", ErrInvalidQuery)
		return b
	}
	if n <= 0 {
		b.err = fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, n)
		return b
	}
	b.desc.limit, b.desc.hasLimit = n, true
	return b
}

// Offset skips the first n results. It can be set once per expression.
func (b *QueryBuilder[T]) Offset(n int) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasOffset {
		b.err = fmt.Errorf("%w: offset cannot be set more than once", ErrInvalidQuery)
		return b
	}
	if n < 0 {
		b.err = fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidQuery, n)
		return b
	}
	b.desc.offset, b.desc.hasOffset = n, true
	return b
}

// StartAt sets the inclusive lower pagination bound. StartAt and StartAfter
// are mutually exclusive and only one of them may be set, once.
func (b *QueryBuilder[T]) StartAt(values ...any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasStartAt || b.desc.hasStartAfter {
		b.err = fmt.Errorf("%w: startAt/startAfter cannot be set more than once", ErrInvalidQuery)
		return b
	}
	b.desc.startAt, b.desc.hasStartAt = values, true
	return b
}

// StartAfter sets the exclusive lower pagination bound.
func (b *QueryBuilder[T]) StartAfter(values ...any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasStartAt || b.desc.hasStartAfter {
		b.err = fmt.Errorf("%w: startAt/startAfter cannot be set more than once", ErrInvalidQuery)
		return b
	}
	b.desc.startAfter, b.desc.hasStartAfter = values, true
	return b
}

// EndAt sets the inclusive upper pagination bound. EndAt and EndBefore are
// mutually exclusive and only one of them may be set, once.
func (b *QueryBuilder[T]) EndAt(values ...any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasEndAt || b.desc.hasEndBefore {
		b.err = fmt.Errorf("%w: endAt/endBefore cannot be set more than once", ErrInvalidQuery)
		return b
	}
	b.desc.endAt, b.desc.hasEndAt = values, true
	return b
}

// EndBefore sets the exclusive upper pagination bound.
func (b *QueryBuilder[T]) EndBefore(values ...any) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.hasEndAt || b.desc.hasEndBefore {
		b.err = fmt.Errorf("%w: endAt/endBefore cannot be set more than once", ErrInvalidQuery)
		return b
	}
	b.desc.endBefore, b.desc.hasEndBefore = values, true
	return b
}

// OrderByAscending sets the active ordering clause. Ordering by a field that
// was already used for ordering in this expression is an error; ordering by
// a different field replaces the active clause, last call wins.
func (b *QueryBuilder[T]) OrderByAscending(property any) *QueryBuilder[T] {
	return b.orderBy(property, Ascending)
}

// OrderByDescending is OrderByAscending with descending direction.
func (b *QueryBuilder[T]) OrderByDescending(property any) *QueryBuilder[T] {
	return b.orderBy(property, Descending)
}

func (b *QueryBuilder[T]) orderBy(property any, dir Direction) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	path, err := resolveProperty(property)
	if err != nil {
		b.err = err
		return b
	}
	if b.orderedPaths[path] {
		b.err = fmt.Errorf("%w: order by %q is already set", ErrInvalidQuery, path)
		return b
	}
	if b.orderedPaths == nil {
		b.orderedPaths = make(map[string]bool)
	}
	b.orderedPaths[path] = true
	b.desc.order = &OrderSpec{Path: path, Direction: dir}
	return b
}

// CustomQuery registers a transform applied to the compiled backend query
// right before execution. It can be set once per expression.
func (b *QueryBuilder[T]) CustomQuery(fn CustomQueryFunc) *QueryBuilder[T] {
	if b.err != nil {
		return b
	}
	if b.desc.custom != nil {
		b.err = fmt.Errorf("%w: custom query cannot be set more than once", ErrInvalidQuery)
		return b
	}
	b.desc.custom = fn
	return b
}

// Find runs the query and returns every matching entity in result order.
func (b *QueryBuilder[T]) Find(ctx context.Context) ([]*T, error) {
	if b.err != nil {
		return nil, b.err
	}
	return execute[T](ctx, b.ref, b.meta, b.desc, false)
}

// FindOne runs the query with the limit forced to one, overriding any
// caller-set limit, and returns the first match or nil when nothing matched.
func (b *QueryBuilder[T]) FindOne(ctx context.Context) (*T, error) {
	if b.err != nil {
		return nil, b.err
	}
	results, err := execute[T](ctx, b.ref, b.meta, b.desc, true)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Count runs a count-only compile of the expression: filters and the custom
// transform apply, order, cursor bounds, offset and limit do not.
func (b *QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	return executeCount(ctx, b.ref, b.desc)
}
