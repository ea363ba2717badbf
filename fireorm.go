// Package fireorm is an object-document mapper for document databases.
// Entities are plain structs persisted through a typed Repository; queries
// are built with a chainable QueryBuilder and compiled against a pluggable
// backend (Firestore, MongoDB, GORM/SQL).
package fireorm

import "errors"

// Operator is a filter comparison operator. The string values follow the
// Firestore wire vocabulary so they can be handed to the backend verbatim.
type Operator string

const (
	OperatorEqual            Operator = "=="
	OperatorNotEqual         Operator = "!="
	OperatorGreaterThan      Operator = ">"
	OperatorGreaterOrEqual   Operator = ">="
	OperatorLessThan         Operator = "<"
	OperatorLessOrEqual      Operator = "<="
	OperatorArrayContains    Operator = "array-contains"
	OperatorArrayContainsAny Operator = "array-contains-any"
	OperatorIn               Operator = "in"
	OperatorNotIn            Operator = "not-in"
)

// Direction is an ordering direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// maxDisjunctionValues is the backend cap on the number of values accepted
// by in, not-in and array-contains-any filters.
const maxDisjunctionValues = 10

var (
	// ErrInvalidQuery wraps every builder misuse error: too many values on a
	// disjunction filter, re-setting limit/offset/cursor bounds, re-ordering
	// an already ordered field, or setting a second custom query.
	ErrInvalidQuery = errors.New("fireorm: invalid query")

	// ErrDocumentNotFound is returned when a lookup by id matches nothing.
	ErrDocumentNotFound = errors.New("fireorm: document not found")

	// ErrUnsupportedOperator is reported by adapters that cannot express a
	// given filter operator (for example array-contains on a SQL backend).
	ErrUnsupportedOperator = errors.New("fireorm: unsupported operator")
)

// CollectionNamer overrides the collection name derived from the struct name.
type CollectionNamer interface {
	CollectionName() string
}

// Validator is checked by Repository.Create and Repository.Update before the
// entity is written.
type Validator interface {
	Validate() error
}
