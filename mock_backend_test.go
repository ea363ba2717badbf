package fireorm

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// memClient is an in-memory backend used across the package tests. Queries
// evaluate for real (filters, sort, cursor bounds, offset, limit) so the
// whole pipeline can be exercised without a server.
type memClient struct {
	colls        map[string]*memColl
	batchCommits int
}

func newMemClient() *memClient {
	return &memClient{colls: make(map[string]*memColl)}
}

func (c *memClient) Collection(name string) CollectionRef {
	coll, ok := c.colls[name]
	if !ok {
		coll = &memColl{docs: make(map[string]map[string]any)}
		c.colls[name] = coll
	}
	return &memCollection{memQuery: memQuery{coll: coll}, coll: coll}
}

func (c *memClient) Batch() WriteBatch {
	return &memBatch{client: c}
}

func (c *memClient) RunTransaction(_ context.Context, fn func(tx Transaction) error) error {
	saved := c.snapshotState()
	if err := fn(&memTx{}); err != nil {
		c.restoreState(saved)
		return err
	}
	return nil
}

func (c *memClient) snapshotState() map[string]*memColl {
	saved := make(map[string]*memColl, len(c.colls))
	for name, coll := range c.colls {
		copied := &memColl{docs: make(map[string]map[string]any, len(coll.docs)), order: append([]string{}, coll.order...), seq: coll.seq}
		for id, doc := range coll.docs {
			copied.docs[id] = cloneDoc(doc)
		}
		saved[name] = copied
	}
	return saved
}

func (c *memClient) restoreState(saved map[string]*memColl) {
	for name, coll := range c.colls {
		if orig, ok := saved[name]; ok {
			coll.docs, coll.order, coll.seq = orig.docs, orig.order, orig.seq
		} else {
			coll.docs, coll.order = make(map[string]map[string]any), nil
		}
	}
}

type memColl struct {
	docs  map[string]map[string]any
	order []string // insertion order
	seq   int
}

func (s *memColl) put(id string, data map[string]any) {
	if _, ok := s.docs[id]; !ok {
		s.order = append(s.order, id)
	}
	s.docs[id] = cloneDoc(data)
}

func (s *memColl) remove(id string) {
	if _, ok := s.docs[id]; !ok {
		return
	}
	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

type memCollection struct {
	memQuery
	coll *memColl
}

func (c *memCollection) Doc(id string) DocumentRef {
	return &memDoc{coll: c.coll, id: id}
}

func (c *memCollection) NewDoc() DocumentRef {
	c.coll.seq++
	return &memDoc{coll: c.coll, id: fmt.Sprintf("doc-%03d", c.coll.seq)}
}

type memQuery struct {
	coll    *memColl
	filters []FilterClause
	order   *OrderSpec
	bounds  []cursorBound

	limit     int
	hasLimit  bool
	offset    int
	hasOffset bool
}

func (q memQuery) Where(path string, op Operator, value any) Query {
	filters := make([]FilterClause, len(q.filters), len(q.filters)+1)
	copy(filters, q.filters)
	q.filters = append(filters, FilterClause{Path: path, Operator: op, Value: value})
	return q
}

func (q memQuery) OrderBy(path string, dir Direction) Query {
	q.order = &OrderSpec{Path: path, Direction: dir}
	return q
}

func (q memQuery) StartAt(values ...any) Query    { return q.bound(values, true, true) }
func (q memQuery) StartAfter(values ...any) Query { return q.bound(values, true, false) }
func (q memQuery) EndAt(values ...any) Query      { return q.bound(values, false, true) }
func (q memQuery) EndBefore(values ...any) Query  { return q.bound(values, false, false) }

func (q memQuery) bound(values []any, lower, inclusive bool) Query {
	bounds := make([]cursorBound, len(q.bounds), len(q.bounds)+1)
	copy(bounds, q.bounds)
	q.bounds = append(bounds, cursorBound{value: values[0], lower: lower, inclusive: inclusive})
	return q
}

func (q memQuery) Offset(n int) Query {
	q.offset, q.hasOffset = n, true
	return q
}

func (q memQuery) Limit(n int) Query {
	q.limit, q.hasLimit = n, true
	return q
}

func (q memQuery) Documents(context.Context) ([]DocumentSnapshot, error) {
	matched, err := q.matchedIDs()
	if err != nil {
		return nil, err
	}
	out := make([]DocumentSnapshot, 0, len(matched))
	for _, id := range matched {
		out = append(out, &memSnapshot{id: id, data: cloneDoc(q.coll.docs[id])})
	}
	return out, nil
}

func (q memQuery) Count(context.Context) (int64, bool, error) {
	// Count ignores bounds/offset/limit like a server-side count over the
	// filtered set.
	n := 0
	for _, id := range q.coll.order {
		if q.matches(q.coll.docs[id]) {
			n++
		}
	}
	return int64(n), true, nil
}

func (q memQuery) matchedIDs() ([]string, error) {
	var matched []string
	for _, id := range q.coll.order {
		if q.matches(q.coll.docs[id]) {
			matched = append(matched, id)
		}
	}
	if q.order != nil {
		path := q.order.Path
		desc := q.order.Direction == Descending
		sort.SliceStable(matched, func(i, j int) bool {
			less := compareValues(lookupPath(q.coll.docs[matched[i]], path), lookupPath(q.coll.docs[matched[j]], path)) < 0
			if desc {
				return !less
			}
			return less
		})
	}
	if len(q.bounds) > 0 {
		if q.order == nil {
			return nil, fmt.Errorf("memory backend: cursor bounds require an order clause")
		}
		matched = q.applyBounds(matched)
	}
	if q.hasOffset && q.offset < len(matched) {
		matched = matched[q.offset:]
	} else if q.hasOffset {
		matched = nil
	}
	if q.hasLimit && q.limit < len(matched) {
		matched = matched[:q.limit]
	}
	return matched, nil
}

func (q memQuery) applyBounds(ids []string) []string {
	var out []string
	for _, id := range ids {
		v := lookupPath(q.coll.docs[id], q.order.Path)
		keep := true
		for _, b := range q.bounds {
			cmp := compareValues(v, b.value)
			if q.order.Direction == Descending {
				cmp = -cmp
			}
			switch {
			case b.lower && b.inclusive:
				keep = keep && cmp >= 0
			case b.lower && !b.inclusive:
				keep = keep && cmp > 0
			case !b.lower && b.inclusive:
				keep = keep && cmp <= 0
			default:
				keep = keep && cmp < 0
			}
		}
		if keep {
			out = append(out, id)
		}
	}
	return out
}

func (q memQuery) matches(doc map[string]any) bool {
	for _, f := range q.filters {
		if !matchFilter(lookupPath(doc, f.Path), f.Operator, f.Value) {
			return false
		}
	}
	return true
}

func lookupPath(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func matchFilter(actual any, op Operator, expected any) bool {
	switch op {
	case OperatorEqual:
		return reflect.DeepEqual(actual, expected) || compareValues(actual, expected) == 0
	case OperatorNotEqual:
		return !matchFilter(actual, OperatorEqual, expected)
	case OperatorGreaterThan:
		return compareValues(actual, expected) > 0
	case OperatorGreaterOrEqual:
		return compareValues(actual, expected) >= 0
	case OperatorLessThan:
		return compareValues(actual, expected) < 0
	case OperatorLessOrEqual:
		return compareValues(actual, expected) <= 0
	case OperatorArrayContains:
		list, _ := actual.([]any)
		for _, el := range list {
			if matchFilter(el, OperatorEqual, expected) {
				return true
			}
		}
		return false
	case OperatorArrayContainsAny:
		for _, candidate := range expected.([]any) {
			if matchFilter(actual, OperatorArrayContains, candidate) {
				return true
			}
		}
		return false
	case OperatorIn:
		for _, candidate := range expected.([]any) {
			if matchFilter(actual, OperatorEqual, candidate) {
				return true
			}
		}
		return false
	case OperatorNotIn:
		return !matchFilter(actual, OperatorIn, expected)
	}
	return false
}

// compareValues orders the scalar kinds the tests use. Mismatched or
// unordered kinds compare as equal so filters on them simply never match.
func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return float64(x), true
	}
	return 0, false
}

type memDoc struct {
	coll *memColl
	id   string
}

func (d *memDoc) ID() string { return d.id }

func (d *memDoc) Get(context.Context) (DocumentSnapshot, error) {
	doc, ok := d.coll.docs[d.id]
	if !ok {
		return &memSnapshot{id: d.id}, nil
	}
	return &memSnapshot{id: d.id, data: cloneDoc(doc)}, nil
}

func (d *memDoc) Set(_ context.Context, data map[string]any) error {
	d.coll.put(d.id, data)
	return nil
}

func (d *memDoc) Delete(context.Context) error {
	d.coll.remove(d.id)
	return nil
}

type memSnapshot struct {
	id   string
	data map[string]any
}

func (s *memSnapshot) ID() string           { return s.id }
func (s *memSnapshot) Exists() bool         { return s.data != nil }
func (s *memSnapshot) Data() map[string]any { return s.data }
func (s *memSnapshot) DataTo(dst any) error { return decodeDocument(s.data, dst) }

type memBatch struct {
	client *memClient
	ops    []batchOp
}

func (b *memBatch) Set(ref DocumentRef, data map[string]any) {
	b.ops = append(b.ops, batchOp{ref: ref, data: data})
}

func (b *memBatch) Delete(ref DocumentRef) {
	b.ops = append(b.ops, batchOp{ref: ref, delete: true})
}

func (b *memBatch) Commit(context.Context) error {
	b.client.batchCommits++
	for _, op := range b.ops {
		doc := op.ref.(*memDoc)
		if op.delete {
			doc.coll.remove(doc.id)
		} else {
			doc.coll.put(doc.id, op.data)
		}
	}
	return nil
}

// memTx applies operations directly; memClient.RunTransaction restores the
// pre-transaction state when fn fails.
type memTx struct{}

func (memTx) Get(ref DocumentRef) (DocumentSnapshot, error) {
	return ref.Get(context.Background())
}

func (memTx) Set(ref DocumentRef, data map[string]any) error {
	return ref.Set(context.Background(), data)
}

func (memTx) Delete(ref DocumentRef) error {
	return ref.Delete(context.Background())
}
