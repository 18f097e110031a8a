// Package schema describes the flat field set of a resource and turns decoded
// request payloads into validated field->value records.
//
// A Schema is an ordered list of fields. It is built either explicitly with New,
// or from a Go struct with FromStruct. Schemas are immutable once built: derived
// schemas (see Without) are new values.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the abstract type of a field's value.
type FieldType int

const (
	Any FieldType = iota
	Int
	Float
	String
	Bool
	UUID
	Time
	Decimal
)

var fieldTypeNames = map[FieldType]string{
	Any:     "any",
	Int:     "integer",
	Float:   "float",
	String:  "string",
	Bool:    "bool",
	UUID:    "uuid",
	Time:    "datetime",
	Decimal: "decimal",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType maps a config name (eg "integer", "int", "uuid") to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return Any, nil
	case "int", "integer", "bigint", "serial":
		return Int, nil
	case "float", "double", "number", "real":
		return Float, nil
	case "string", "text", "varchar":
		return String, nil
	case "bool", "boolean":
		return Bool, nil
	case "uuid":
		return UUID, nil
	case "time", "datetime", "timestamp", "timestamptz":
		return Time, nil
	case "decimal", "numeric":
		return Decimal, nil
	}
	return Any, fmt.Errorf("unknown field type %q", name)
}

// Field is a single named, typed member of a Schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Rules is a go-playground/validator tag applied to the field's value, eg "min=1,max=64".
	Rules string
}

// Schema is an ordered, immutable set of fields.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

var ErrEmptyFieldName = errors.New("schema: field name must not be empty")

// New builds a schema named name from fields. Field names must be unique and non-empty.
func New(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, ErrEmptyFieldName
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %q", name, f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustNew is like New but panics on error. Intended for package-level schema declarations.
func MustNew(name string, fields ...Field) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the schema's fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the field called name.
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether the schema declares a field called name.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Without returns a new schema named Name()+suffix holding every field except
// exclude. Every remaining field is required.
func (s *Schema) Without(exclude, suffix string) *Schema {
	fields := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Name == exclude {
			continue
		}
		f.Required = true
		fields = append(fields, f)
	}
	// names are already unique and non-empty
	return MustNew(s.name+suffix, fields...)
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return fmt.Sprintf("%s{%s}", s.name, strings.Join(parts, ", "))
}
