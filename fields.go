package fireorm

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gobeam/stringy"
)

// Property is a resolved reference to a document field. Filter and order
// operations accept either a plain dot-path string or a Property produced by
// FieldPath; both forms resolve to the same dot-joined document path.
type Property interface {
	documentPath() (string, error)
}

type fieldPath struct {
	path string
	err  error
}

func (p fieldPath) documentPath() (string, error) { return p.path, p.err }

// FieldPath resolves a chain of struct field names on T into the dot-joined
// document path the fields are stored under. Each segment is validated
// against T's shape, so a renamed field fails at query-build time instead of
// silently matching nothing:
//
//	fireorm.FieldPath[Order]("Customer", "ZipCode") // -> "customer.zip_code"
func FieldPath[T any](names ...string) Property {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fieldPath{err: fmt.Errorf("%w: field path root %s is not a struct", ErrInvalidQuery, t)}
	}
	if len(names) == 0 {
		return fieldPath{err: fmt.Errorf("%w: empty field path", ErrInvalidQuery)}
	}

	segments := make([]string, 0, len(names))
	for i, name := range names {
		field, ok := t.FieldByName(name)
		if !ok {
			return fieldPath{err: fmt.Errorf("%w: type %s has no field %q", ErrInvalidQuery, t.Name(), name)}
		}
		segments = append(segments, documentFieldName(field))

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if i < len(names)-1 {
			if ft.Kind() != reflect.Struct || ft == timeType {
				return fieldPath{err: fmt.Errorf("%w: field %s.%s is not a struct", ErrInvalidQuery, t.Name(), name)}
			}
			t = ft
		}
	}
	return fieldPath{path: strings.Join(segments, ".")}
}

// resolveProperty accepts the two property reference forms the builder
// supports: a raw dot-path string passed through verbatim, or a Property.
func resolveProperty(property any) (string, error) {
	switch p := property.(type) {
	case string:
		if p == "" {
			return "", fmt.Errorf("%w: empty property path", ErrInvalidQuery)
		}
		return p, nil
	case Property:
		return p.documentPath()
	default:
		return "", fmt.Errorf("%w: unsupported property reference of type %T", ErrInvalidQuery, property)
	}
}

var timeType = reflect.TypeOf(time.Time{})

// documentFieldName maps a struct field to its stored document name: the
// fireorm tag when present, otherwise the snake_case form of the Go name.
// The tag values "id", "createdAt" and "updatedAt" mark special fields and
// do not rename them.
func documentFieldName(f reflect.StructField) string {
	tag, rest := splitTag(f.Tag.Get("fireorm"))
	switch tag {
	case "", "-", tagID, tagCreatedAt, tagUpdatedAt:
		_ = rest
		return stringy.New(f.Name).SnakeCase("?", "").ToLower()
	default:
		return tag
	}
}

func splitTag(tag string) (name, rest string) {
	if i := strings.Index(tag, ","); i >= 0 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}

// encodeDocument flattens a struct into the map[string]any shape handed to
// DocumentRef.Set. The id field is carried by the DocumentRef, never by the
// document body.
func encodeDocument(v reflect.Value) map[string]any {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, _ := splitTag(f.Tag.Get("fireorm")); tag == tagID || tag == "-" {
			continue
		}
		out[documentFieldName(f)] = encodeValue(v.Field(i))
	}
	return out
}

func encodeValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface()
		}
		return encodeDocument(v)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = encodeValue(iter.Value())
		}
		return out
	default:
		return v.Interface()
	}
}

// decodeDocument hydrates the map produced by a backend snapshot into dst, a
// pointer to a struct. Unknown document keys are ignored; numeric widths are
// converted as needed since backends do not preserve Go integer types.
func decodeDocument(data map[string]any, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("fireorm: decode target must be a non-nil pointer, got %T", dst)
	}
	return decodeStruct(data, v.Elem())
}

func decodeStruct(data map[string]any, v reflect.Value) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("fireorm: cannot decode document into %s", v.Type())
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, _ := splitTag(f.Tag.Get("fireorm")); tag == tagID || tag == "-" {
			continue
		}
		raw, ok := data[documentFieldName(f)]
		if !ok || raw == nil {
			continue
		}
		if err := decodeValue(raw, v.Field(i)); err != nil {
			return fmt.Errorf("fireorm: field %s.%s: %w", t.Name(), f.Name, err)
		}
	}
	return nil
}

func decodeValue(raw any, field reflect.Value) error {
	for field.Kind() == reflect.Pointer {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	if m, ok := raw.(map[string]any); ok && field.Kind() == reflect.Struct && field.Type() != timeType {
		return decodeStruct(m, field)
	}
	if s, ok := raw.([]any); ok && field.Kind() == reflect.Slice {
		out := reflect.MakeSlice(field.Type(), len(s), len(s))
		for i, el := range s {
			if err := decodeValue(el, out.Index(i)); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(field.Type()) && convertible(rv.Kind(), field.Kind()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", raw, field.Type())
}

// convertible limits reflect conversions to numeric widening/narrowing so a
// stray int does not get converted into a string.
func convertible(from, to reflect.Kind) bool {
	return isNumeric(from) && isNumeric(to)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
