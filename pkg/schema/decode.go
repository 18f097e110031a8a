package schema

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Decode copies a flat record into the struct pointed to by out, matching keys
// against `json` tag names. Strings are accepted for time, uuid and decimal fields.
func Decode(record map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05.999999999Z07:00"),
			stringToUUIDHook,
			toDecimalHook,
		),
	})
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := dec.Decode(record); err != nil {
		return fmt.Errorf("schema: decode record: %w", err)
	}
	return nil
}

// DecodeAs is a typed convenience over Decode.
func DecodeAs[T any](record map[string]any) (T, error) {
	var out T
	err := Decode(record, &out)
	return out, err
}

func stringToUUIDHook(from, to reflect.Type, data any) (any, error) {
	if to != uuidType || from.Kind() != reflect.String {
		return data, nil
	}
	return uuid.Parse(reflect.ValueOf(data).String())
}

func toDecimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType || from == decimalType {
		return data, nil
	}
	return toDecimal(data)
}
