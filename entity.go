package fireorm

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/gobeam/stringy"
)

// Struct tag values with special meaning.
const (
	tagID        = "id"
	tagCreatedAt = "createdAt"
	tagUpdatedAt = "updatedAt"
)

// entityMeta is the per-type reflection summary the repository and executor
// work from: where the id lives, which audit fields to stamp, and the
// collection the type maps to.
type entityMeta struct {
	typ        reflect.Type
	collection string
	idIndex    []int
	createdAt  []int // nil when the type carries no created-at field
	updatedAt  []int
}

var metaCache sync.Map // reflect.Type -> *entityMeta

func metaFor[T any]() (*entityMeta, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fireorm: entity type %s is not a struct", t)
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*entityMeta), nil
	}

	m := &entityMeta{typ: t, collection: collectionNameFor(t)}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _ := splitTag(f.Tag.Get("fireorm"))
		switch {
		case tag == tagID, tag == "" && f.Name == "ID":
			if f.Type.Kind() != reflect.String {
				return nil, fmt.Errorf("fireorm: id field %s.%s must be a string", t.Name(), f.Name)
			}
			m.idIndex = f.Index
		case tag == tagCreatedAt, tag == "" && f.Name == "CreatedAt":
			if f.Type == timeType {
				m.createdAt = f.Index
			}
		case tag == tagUpdatedAt, tag == "" && f.Name == "UpdatedAt":
			if f.Type == timeType {
				m.updatedAt = f.Index
			}
		}
	}
	if m.idIndex == nil {
		return nil, fmt.Errorf("fireorm: entity type %s has no id field (add an ID string field or a fireorm:\"id\" tag)", t.Name())
	}

	actual, _ := metaCache.LoadOrStore(t, m)
	return actual.(*entityMeta), nil
}

// collectionNameFor derives the default collection name from the type name,
// honoring a CollectionName method when the entity declares one.
func collectionNameFor(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(CollectionNamer); ok {
		return namer.CollectionName()
	}
	return stringy.New(t.Name()).SnakeCase("?", "").ToLower()
}

func (m *entityMeta) id(entity any) string {
	return m.structValue(entity).FieldByIndex(m.idIndex).String()
}

func (m *entityMeta) setID(entity any, id string) {
	m.structValue(entity).FieldByIndex(m.idIndex).SetString(id)
}

// stamp writes the audit timestamps the type declares. created is only
// stamped on first write; updated on every write.
func (m *entityMeta) stamp(entity any, now time.Time, created bool) {
	v := m.structValue(entity)
	if created && m.createdAt != nil {
		v.FieldByIndex(m.createdAt).Set(reflect.ValueOf(now))
	}
	if m.updatedAt != nil {
		v.FieldByIndex(m.updatedAt).Set(reflect.ValueOf(now))
	}
}

func (m *entityMeta) encode(entity any) map[string]any {
	return encodeDocument(reflect.ValueOf(entity))
}

func (m *entityMeta) structValue(entity any) reflect.Value {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v
}

// hydrate rebuilds a typed entity from a backend snapshot: document fields
// through the snapshot's own decoder, id from the snapshot ref.
func hydrate[T any](snap DocumentSnapshot, meta *entityMeta) (*T, error) {
	entity := new(T)
	if err := snap.DataTo(entity); err != nil {
		return nil, err
	}
	meta.setID(entity, snap.ID())
	return entity, nil
}
