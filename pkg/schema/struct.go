package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	uuidType    = reflect.TypeOf(uuid.UUID{})
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// FromStruct derives a schema from the exported fields of T.
//
// Field names come from the `json` tag (falling back to the Go name); fields tagged
// `json:"-"` are skipped. A field is required unless it is a pointer or its json tag
// carries omitempty. The `validate` tag becomes the field's Rules.
//
//	type Potato struct {
//		ID    int     `json:"id,omitempty"`
//		Color string  `json:"color" validate:"min=1"`
//		Mass  float64 `json:"mass"`
//	}
//	s, err := schema.FromStruct[Potato]()
func FromStruct[T any]() (*Schema, error) {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %s is not a struct", t)
	}

	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		ft := sf.Type
		optional := strings.Contains(opts, "omitempty")
		if ft.Kind() == reflect.Pointer {
			optional = true
			ft = ft.Elem()
		}

		fields = append(fields, Field{
			Name:     name,
			Type:     typeOf(ft),
			Required: !optional,
			Rules:    sf.Tag.Get("validate"),
		})
	}

	return New(t.Name(), fields...)
}

// MustFromStruct is like FromStruct but panics on error.
func MustFromStruct[T any]() *Schema {
	s, err := FromStruct[T]()
	if err != nil {
		panic(err)
	}
	return s
}

func typeOf(t reflect.Type) FieldType {
	switch t {
	case uuidType:
		return UUID
	case timeType:
		return Time
	case decimalType:
		return Decimal
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int
	case reflect.Float32, reflect.Float64:
		return Float
	case reflect.String:
		return String
	case reflect.Bool:
		return Bool
	}
	return Any
}
