package fireorm

import "context"

// compile translates the accumulated clauses into one backend query. The
// order is fixed because backend semantics are order- and combination-
// sensitive: filters in call order, then orderBy, then the cursor bounds in
// the sequence startAt, startAfter, endAt, endBefore, then offset, then
// limit. A single-result execution forces limit to one regardless of any
// caller-set limit.
func compile(q Query, d queryDescriptor, single bool) Query {
	for _, f := range d.filters {
		q = q.Where(f.Path, f.Operator, f.Value)
	}
	if d.order != nil {
		q = q.OrderBy(d.order.Path, d.order.Direction)
	}
	if d.hasStartAt {
		q = q.StartAt(d.startAt...)
	}
	if d.hasStartAfter {
		q = q.StartAfter(d.startAfter...)
	}
	if d.hasEndAt {
		q = q.EndAt(d.endAt...)
	}
	if d.hasEndBefore {
		q = q.EndBefore(d.endBefore...)
	}
	if d.hasOffset {
		q = q.Offset(d.offset)
	}
	if single {
		q = q.Limit(1)
	} else if d.hasLimit {
		q = q.Limit(d.limit)
	}
	return q
}

// execute compiles and runs the query, hydrating each snapshot into *T. The
// custom transform, when present, runs after every compile step and receives
// the untouched collection root alongside the compiled query. Backend and
// transform errors propagate unchanged; there are no retries.
func execute[T any](ctx context.Context, ref CollectionRef, meta *entityMeta, d queryDescriptor, single bool) ([]*T, error) {
	q := compile(Query(ref), d, single)
	if d.custom != nil {
		var err error
		if q, err = d.custom(ctx, q, ref); err != nil {
			return nil, err
		}
	}

	snapshots, err := q.Documents(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*T, 0, len(snapshots))
	for _, snap := range snapshots {
		if !snap.Exists() {
			continue
		}
		entity, err := hydrate[T](snap, meta)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, nil
}

// executeCount issues a count-only request. Only filters and the custom
// transform are compiled in. A backend that reports no count value at all
// yields zero rather than an error.
func executeCount(ctx context.Context, ref CollectionRef, d queryDescriptor) (int64, error) {
	q := Query(ref)
	for _, f := range d.filters {
		q = q.Where(f.Path, f.Operator, f.Value)
	}
	if d.custom != nil {
		var err error
		if q, err = d.custom(ctx, q, ref); err != nil {
			return 0, err
		}
	}

	n, ok, err := q.Count(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return n, nil
}
