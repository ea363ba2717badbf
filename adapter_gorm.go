package fireorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewGormClient adapts a GORM connection to the fireorm backend contract,
// mapping collections to tables and documents to rows keyed by a text id
// column. Array membership operators have no relational equivalent and are
// rejected; cursor bounds are emulated as comparisons on the order column,
// so a query carrying bounds must also carry an order clause.
func NewGormClient(db *gorm.DB) Client {
	return &gormClient{db: db}
}

type gormClient struct {
	db *gorm.DB
}

func (g *gormClient) Collection(name string) CollectionRef {
	return &gormCollection{gormQuery: gormQuery{db: g.db, table: name}}
}

func (g *gormClient) Batch() WriteBatch {
	return &gormBatch{db: g.db}
}

func (g *gormClient) RunTransaction(ctx context.Context, fn func(tx Transaction) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransaction{tx: tx})
	})
}

type gormCollection struct {
	gormQuery
}

func (c *gormCollection) Doc(id string) DocumentRef {
	return &gormDoc{db: c.db, table: c.table, id: id}
}

func (c *gormCollection) NewDoc() DocumentRef {
	return &gormDoc{db: c.db, table: c.table, id: uuid.NewString()}
}

type gormQuery struct {
	db     *gorm.DB
	table  string
	exprs  []clause.Expression
	order  *OrderSpec
	bounds []cursorBound

	limit     int
	hasLimit  bool
	offset    int
	hasOffset bool

	err error
}

func (q gormQuery) fail(err error) Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q gormQuery) Where(path string, op Operator, value any) Query {
	expr, err := gormCondition(path, op, value)
	if err != nil {
		return q.fail(err)
	}
	exprs := make([]clause.Expression, len(q.exprs), len(q.exprs)+1)
	copy(exprs, q.exprs)
	q.exprs = append(exprs, expr)
	return q
}

// gormCondition renders one filter operator as a GORM clause expression.
func gormCondition(path string, op Operator, value any) (clause.Expression, error) {
	switch op {
	case OperatorEqual:
		return clause.Eq{Column: path, Value: value}, nil
	case OperatorNotEqual:
		return clause.Neq{Column: path, Value: value}, nil
	case OperatorGreaterThan:
		return clause.Gt{Column: path, Value: value}, nil
	case OperatorGreaterOrEqual:
		return clause.Gte{Column: path, Value: value}, nil
	case OperatorLessThan:
		return clause.Lt{Column: path, Value: value}, nil
	case OperatorLessOrEqual:
		return clause.Lte{Column: path, Value: value}, nil
	case OperatorIn:
		return clause.IN{Column: path, Values: valueList(value)}, nil
	case OperatorNotIn:
		return clause.Not(clause.IN{Column: path, Values: valueList(value)}), nil
	default:
		return nil, fmt.Errorf("%w: %q has no SQL equivalent", ErrUnsupportedOperator, op)
	}
}

func valueList(value any) []any {
	if list, ok := value.([]any); ok {
		return list
	}
	return []any{value}
}

func (q gormQuery) OrderBy(path string, dir Direction) Query {
	q.order = &OrderSpec{Path: path, Direction: dir}
	return q
}

func (q gormQuery) StartAt(values ...any) Query {
	return q.bound(values, true, true)
}

func (q gormQuery) StartAfter(values ...any) Query {
	return q.bound(values, true, false)
}

func (q gormQuery) EndAt(values ...any) Query {
	return q.bound(values, false, true)
}

func (q gormQuery) EndBefore(values ...any) Query {
	return q.bound(values, false, false)
}

func (q gormQuery) bound(values []any, lower, inclusive bool) Query {
	if len(values) == 0 {
		return q.fail(fmt.Errorf("%w: cursor bound requires a value", ErrInvalidQuery))
	}
	bounds := make([]cursorBound, len(q.bounds), len(q.bounds)+1)
	copy(bounds, q.bounds)
	q.bounds = append(bounds, cursorBound{value: values[0], lower: lower, inclusive: inclusive})
	return q
}

func (q gormQuery) Offset(n int) Query {
	q.offset, q.hasOffset = n, true
	return q
}

func (q gormQuery) Limit(n int) Query {
	q.limit, q.hasLimit = n, true
	return q
}

// conditions folds the accumulated expressions plus rendered cursor bounds.
func (q gormQuery) conditions() ([]clause.Expression, error) {
	if len(q.bounds) == 0 {
		return q.exprs, nil
	}
	if q.order == nil {
		return nil, fmt.Errorf("%w: cursor bounds require an order clause on this backend", ErrInvalidQuery)
	}
	exprs := append([]clause.Expression{}, q.exprs...)
	for _, b := range q.bounds {
		toward := b.lower
		if q.order.Direction == Descending {
			toward = !toward
		}
		switch {
		case toward && b.inclusive:
			exprs = append(exprs, clause.Gte{Column: q.order.Path, Value: b.value})
		case toward && !b.inclusive:
			exprs = append(exprs, clause.Gt{Column: q.order.Path, Value: b.value})
		case !toward && b.inclusive:
			exprs = append(exprs, clause.Lte{Column: q.order.Path, Value: b.value})
		default:
			exprs = append(exprs, clause.Lt{Column: q.order.Path, Value: b.value})
		}
	}
	return exprs, nil
}

func (q gormQuery) Documents(ctx context.Context) ([]DocumentSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	exprs, err := q.conditions()
	if err != nil {
		return nil, err
	}

	tx := q.db.WithContext(ctx).Table(q.table)
	if len(exprs) > 0 {
		tx = tx.Clauses(exprs...)
	}
	if q.order != nil {
		tx = tx.Clauses(clause.OrderBy{Columns: []clause.OrderByColumn{{
			Column: clause.Column{Name: q.order.Path},
			Desc:   q.order.Direction == Descending,
		}}})
	}
	if q.hasOffset {
		tx = tx.Offset(q.offset)
	}
	if q.hasLimit {
		tx = tx.Limit(q.limit)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]DocumentSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, newGormSnapshot(row))
	}
	return out, nil
}

func (q gormQuery) Count(ctx context.Context) (int64, bool, error) {
	if q.err != nil {
		return 0, false, q.err
	}
	exprs, err := q.conditions()
	if err != nil {
		return 0, false, err
	}
	tx := q.db.WithContext(ctx).Table(q.table)
	if len(exprs) > 0 {
		tx = tx.Clauses(exprs...)
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, false, err
	}
	return n, true, nil
}

type gormDoc struct {
	db    *gorm.DB
	table string
	id    string
}

func (d *gormDoc) ID() string { return d.id }

func (d *gormDoc) Get(ctx context.Context) (DocumentSnapshot, error) {
	return d.getOn(d.db.WithContext(ctx))
}

func (d *gormDoc) getOn(db *gorm.DB) (DocumentSnapshot, error) {
	row := map[string]any{}
	err := db.Table(d.table).Where("id = ?", d.id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &gormSnapshot{id: d.id}, nil
	}
	if err != nil {
		return nil, err
	}
	return newGormSnapshot(row), nil
}

func (d *gormDoc) Set(ctx context.Context, data map[string]any) error {
	return d.setOn(d.db.WithContext(ctx), data)
}

func (d *gormDoc) setOn(db *gorm.DB, data map[string]any) error {
	row := make(map[string]any, len(data)+1)
	for k, v := range data {
		row[k] = v
	}
	row["id"] = d.id

	tx := db.Table(d.table).Where("id = ?", d.id).Updates(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return db.Table(d.table).Create(row).Error
	}
	return nil
}

func (d *gormDoc) Delete(ctx context.Context) error {
	return d.deleteOn(d.db.WithContext(ctx))
}

func (d *gormDoc) deleteOn(db *gorm.DB) error {
	return db.Table(d.table).Where("id = ?", d.id).Delete(nil).Error
}

type gormSnapshot struct {
	id   string
	data map[string]any // nil for a missing row
}

func newGormSnapshot(row map[string]any) *gormSnapshot {
	id := fmt.Sprint(row["id"])
	data := make(map[string]any, len(row))
	for k, v := range row {
		if k == "id" {
			continue
		}
		if raw, ok := v.([]byte); ok {
			v = string(raw)
		}
		data[k] = v
	}
	return &gormSnapshot{id: id, data: data}
}

func (s *gormSnapshot) ID() string           { return s.id }
func (s *gormSnapshot) Exists() bool         { return s.data != nil }
func (s *gormSnapshot) Data() map[string]any { return s.data }
func (s *gormSnapshot) DataTo(dst any) error { return decodeDocument(s.data, dst) }

// gormBatch flushes staged writes inside one SQL transaction.
type gormBatch struct {
	db  *gorm.DB
	ops []batchOp
}

func (b *gormBatch) Set(ref DocumentRef, data map[string]any) {
	b.ops = append(b.ops, batchOp{ref: ref, data: data})
}

func (b *gormBatch) Delete(ref DocumentRef) {
	b.ops = append(b.ops, batchOp{ref: ref, delete: true})
}

func (b *gormBatch) Commit(ctx context.Context) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range b.ops {
			doc, err := gormRefOf(op.ref)
			if err != nil {
				return err
			}
			if op.delete {
				err = doc.deleteOn(tx)
			} else {
				err = doc.setOn(tx, op.data)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.ops = nil
	return nil
}

type gormTransaction struct {
	tx *gorm.DB
}

func (t *gormTransaction) Get(ref DocumentRef) (DocumentSnapshot, error) {
	doc, err := gormRefOf(ref)
	if err != nil {
		return nil, err
	}
	return doc.getOn(t.tx)
}

func (t *gormTransaction) Set(ref DocumentRef, data map[string]any) error {
	doc, err := gormRefOf(ref)
	if err != nil {
		return err
	}
	return doc.setOn(t.tx, data)
}

func (t *gormTransaction) Delete(ref DocumentRef) error {
	doc, err := gormRefOf(ref)
	if err != nil {
		return err
	}
	return doc.deleteOn(t.tx)
}

func gormRefOf(ref DocumentRef) (*gormDoc, error) {
	doc, ok := ref.(*gormDoc)
	if !ok {
		return nil, fmt.Errorf("fireorm: document ref %T does not belong to the gorm backend", ref)
	}
	return doc, nil
}
