package crud

import (
	"github.com/edgeflare/crudrouter/pkg/schema"
)

// DefaultPrimaryKey is the primary key field name used when none is given.
const DefaultPrimaryKey = "id"

// PrimaryKey names the field identifying a record and its type.
type PrimaryKey struct {
	Name string
	Type schema.FieldType
}

// InferPrimaryKeyType returns the declared type of field name on s, or schema.Int
// when s has no such field.
func InferPrimaryKeyType(s *schema.Schema, name string) schema.FieldType {
	f, ok := s.Lookup(name)
	if !ok {
		return schema.Int
	}
	return f.Type
}

// DeriveCreateSchema returns s without the primary key field, every remaining
// field required. The result is named after s with suffix appended ("Create" if empty).
// A schema holding only the primary key yields an empty create schema.
func DeriveCreateSchema(s *schema.Schema, pk, suffix string) *schema.Schema {
	if suffix == "" {
		suffix = "Create"
	}
	return s.Without(pk, suffix)
}

// Parse converts a textual key, eg the {id} path segment, to the key's type.
func (k PrimaryKey) Parse(raw string) (any, error) {
	v, err := schema.ParseValue(k.Type, raw)
	if err != nil {
		return nil, &KeyError{Raw: raw, Type: k.Type, Err: err}
	}
	return v, nil
}
