package fireorm

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoClient adapts a MongoDB database to the fireorm backend contract.
// Document ids live in _id as strings; cursor bounds are emulated as
// comparisons on the sort field, so a query carrying bounds must also carry
// an order clause.
func NewMongoClient(db *mongo.Database) Client {
	return &mongoClient{db: db}
}

type mongoClient struct {
	db *mongo.Database
}

func (m *mongoClient) Collection(name string) CollectionRef {
	coll := m.db.Collection(name)
	return &mongoCollection{mongoQuery: mongoQuery{coll: coll}}
}

func (m *mongoClient) Batch() WriteBatch {
	return &mongoBatch{}
}

func (m *mongoClient) RunTransaction(ctx context.Context, fn func(tx Transaction) error) error {
	session, err := m.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&mongoTransaction{ctx: sc})
	})
	return err
}

type mongoCollection struct {
	mongoQuery
}

func (c *mongoCollection) Doc(id string) DocumentRef {
	return &mongoDoc{coll: c.coll, id: id}
}

func (c *mongoCollection) NewDoc() DocumentRef {
	return &mongoDoc{coll: c.coll, id: primitive.NewObjectID().Hex()}
}

// cursorBound is one pagination bound waiting to be rendered against the
// sort field at execution time.
type cursorBound struct {
	value     any
	lower     bool
	inclusive bool
}

type mongoQuery struct {
	coll   *mongo.Collection
	conds  []bson.M
	order  *OrderSpec
	bounds []cursorBound

	limit     int64
	hasLimit  bool
	offset    int64
	hasOffset bool

	err error
}

func (q mongoQuery) fail(err error) Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q mongoQuery) Where(path string, op Operator, value any) Query {
	cond, err := mongoCondition(path, op, value)
	if err != nil {
		return q.fail(err)
	}
	conds := make([]bson.M, len(q.conds), len(q.conds)+1)
	copy(conds, q.conds)
	q.conds = append(conds, cond)
	return q
}

// mongoCondition renders one filter operator as a MongoDB filter fragment.
func mongoCondition(path string, op Operator, value any) (bson.M, error) {
	switch op {
	case OperatorEqual, OperatorArrayContains:
		// Mongo equality on an array field already means membership.
		return bson.M{path: value}, nil
	case OperatorNotEqual:
		return bson.M{path: bson.M{"$ne": value}}, nil
	case OperatorGreaterThan:
		return bson.M{path: bson.M{"$gt": value}}, nil
	case OperatorGreaterOrEqual:
		return bson.M{path: bson.M{"$gte": value}}, nil
	case OperatorLessThan:
		return bson.M{path: bson.M{"$lt": value}}, nil
	case OperatorLessOrEqual:
		return bson.M{path: bson.M{"$lte": value}}, nil
	case OperatorIn, OperatorArrayContainsAny:
		return bson.M{path: bson.M{"$in": value}}, nil
	case OperatorNotIn:
		return bson.M{path: bson.M{"$nin": value}}, nil
	default:
		return nil, fmt.Errorf("%w: %q has no MongoDB equivalent", ErrUnsupportedOperator, op)
	}
}

func (q mongoQuery) OrderBy(path string, dir Direction) Query {
	q.order = &OrderSpec{Path: path, Direction: dir}
	return q
}

func (q mongoQuery) StartAt(values ...any) Query {
	return q.bound(values, true, true)
}

func (q mongoQuery) StartAfter(values ...any) Query {
	return q.bound(values, true, false)
}

func (q mongoQuery) EndAt(values ...any) Query {
	return q.bound(values, false, true)
}

func (q mongoQuery) EndBefore(values ...any) Query {
	return q.bound(values, false, false)
}

func (q mongoQuery) bound(values []any, lower, inclusive bool) Query {
	if len(values) == 0 {
		return q.fail(fmt.Errorf("%w: cursor bound requires a value", ErrInvalidQuery))
	}
	bounds := make([]cursorBound, len(q.bounds), len(q.bounds)+1)
	copy(bounds, q.bounds)
	q.bounds = append(bounds, cursorBound{value: values[0], lower: lower, inclusive: inclusive})
	return q
}

func (q mongoQuery) Offset(n int) Query {
	q.offset, q.hasOffset = int64(n), true
	return q
}

func (q mongoQuery) Limit(n int) Query {
	q.limit, q.hasLimit = int64(n), true
	return q
}

// filter folds the accumulated conditions plus rendered cursor bounds into
// one MongoDB filter document.
func (q mongoQuery) filter() (bson.M, error) {
	conds := q.conds
	if len(q.bounds) > 0 {
		if q.order == nil {
			return nil, fmt.Errorf("%w: cursor bounds require an order clause on this backend", ErrInvalidQuery)
		}
		conds = append(append([]bson.M{}, conds...), q.renderBounds()...)
	}
	switch len(conds) {
	case 0:
		return bson.M{}, nil
	case 1:
		return conds[0], nil
	default:
		return bson.M{"$and": conds}, nil
	}
}

// renderBounds turns cursor bounds into comparisons on the sort field. The
// comparison direction flips with a descending sort, matching document-store
// cursor semantics.
func (q mongoQuery) renderBounds() []bson.M {
	out := make([]bson.M, 0, len(q.bounds))
	for _, b := range q.bounds {
		toward := b.lower
		if q.order.Direction == Descending {
			toward = !toward
		}
		var cmp string
		switch {
		case toward && b.inclusive:
			cmp = "$gte"
		case toward && !b.inclusive:
			cmp = "$gt"
		case !toward && b.inclusive:
			cmp = "$lte"
		default:
			cmp = "$lt"
		}
		out = append(out, bson.M{q.order.Path: bson.M{cmp: b.value}})
	}
	return out
}

func (q mongoQuery) Documents(ctx context.Context) ([]DocumentSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.order != nil {
		dir := 1
		if q.order.Direction == Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.order.Path, Value: dir}})
	}
	if q.hasOffset {
		opts.SetSkip(q.offset)
	}
	if q.hasLimit {
		opts.SetLimit(q.limit)
	}

	cur, err := q.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, err
	}

	out := make([]DocumentSnapshot, 0, len(raw))
	for _, doc := range raw {
		out = append(out, newMongoSnapshot(doc))
	}
	return out, nil
}

func (q mongoQuery) Count(ctx context.Context) (int64, bool, error) {
	if q.err != nil {
		return 0, false, q.err
	}
	filter, err := q.filter()
	if err != nil {
		return 0, false, err
	}
	n, err := q.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

type mongoDoc struct {
	coll *mongo.Collection
	id   string
}

func (d *mongoDoc) ID() string { return d.id }

func (d *mongoDoc) Get(ctx context.Context) (DocumentSnapshot, error) {
	var doc bson.M
	err := d.coll.FindOne(ctx, bson.M{"_id": d.id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &mongoSnapshot{id: d.id}, nil
	}
	if err != nil {
		return nil, err
	}
	return newMongoSnapshot(doc), nil
}

func (d *mongoDoc) Set(ctx context.Context, data map[string]any) error {
	_, err := d.coll.UpdateOne(ctx,
		bson.M{"_id": d.id},
		bson.M{"$set": bson.M(data)},
		options.Update().SetUpsert(true))
	return err
}

func (d *mongoDoc) Delete(ctx context.Context) error {
	_, err := d.coll.DeleteOne(ctx, bson.M{"_id": d.id})
	return err
}

type mongoSnapshot struct {
	id   string
	data map[string]any // nil for a missing document
}

func newMongoSnapshot(doc bson.M) *mongoSnapshot {
	id := fmt.Sprint(doc["_id"])
	if oid, ok := doc["_id"].(primitive.ObjectID); ok {
		id = oid.Hex()
	}
	delete(doc, "_id")
	data := make(map[string]any, len(doc))
	for k, v := range doc {
		data[k] = normalizeBsonValue(v)
	}
	return &mongoSnapshot{id: id, data: data}
}

func (s *mongoSnapshot) ID() string           { return s.id }
func (s *mongoSnapshot) Exists() bool         { return s.data != nil }
func (s *mongoSnapshot) Data() map[string]any { return s.data }
func (s *mongoSnapshot) DataTo(dst any) error { return decodeDocument(s.data, dst) }

// normalizeBsonValue rewrites driver-specific value types into the plain
// map/slice/scalar shapes decodeDocument understands.
func normalizeBsonValue(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = normalizeBsonValue(el)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalizeBsonValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = normalizeBsonValue(el)
		}
		return out
	case primitive.DateTime:
		return x.Time()
	case primitive.ObjectID:
		return x.Hex()
	default:
		return v
	}
}

// mongoBatch groups staged writes per collection and flushes each group as
// one ordered BulkWrite.
type mongoBatch struct {
	ops []batchOp
}

func (b *mongoBatch) Set(ref DocumentRef, data map[string]any) {
	b.ops = append(b.ops, batchOp{ref: ref, data: data})
}

func (b *mongoBatch) Delete(ref DocumentRef) {
	b.ops = append(b.ops, batchOp{ref: ref, delete: true})
}

func (b *mongoBatch) Commit(ctx context.Context) error {
	type group struct {
		coll   *mongo.Collection
		models []mongo.WriteModel
	}
	var groups []*group
	byColl := make(map[*mongo.Collection]*group)

	for _, op := range b.ops {
		doc, err := mongoRefOf(op.ref)
		if err != nil {
			return err
		}
		g := byColl[doc.coll]
		if g == nil {
			g = &group{coll: doc.coll}
			byColl[doc.coll] = g
			groups = append(groups, g)
		}
		if op.delete {
			g.models = append(g.models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": doc.id}))
		} else {
			replacement := bson.M{"_id": doc.id}
			for k, v := range op.data {
				replacement[k] = v
			}
			g.models = append(g.models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": doc.id}).
				SetReplacement(replacement).
				SetUpsert(true))
		}
	}

	for _, g := range groups {
		if _, err := g.coll.BulkWrite(ctx, g.models); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

// mongoTransaction runs document operations against the session context of
// the enclosing WithTransaction callback.
type mongoTransaction struct {
	ctx mongo.SessionContext
}

func (t *mongoTransaction) Get(ref DocumentRef) (DocumentSnapshot, error) {
	doc, err := mongoRefOf(ref)
	if err != nil {
		return nil, err
	}
	return doc.Get(t.ctx)
}

func (t *mongoTransaction) Set(ref DocumentRef, data map[string]any) error {
	doc, err := mongoRefOf(ref)
	if err != nil {
		return err
	}
	return doc.Set(t.ctx, data)
}

func (t *mongoTransaction) Delete(ref DocumentRef) error {
	doc, err := mongoRefOf(ref)
	if err != nil {
		return err
	}
	return doc.Delete(t.ctx)
}

func mongoRefOf(ref DocumentRef) (*mongoDoc, error) {
	doc, ok := ref.(*mongoDoc)
	if !ok {
		return nil, fmt.Errorf("fireorm: document ref %T does not belong to the mongo backend", ref)
	}
	return doc, nil
}
