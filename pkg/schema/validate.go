package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Issue is a single field-level validation failure. Loc is the location of the
// offending value, eg ["body", "color"] or ["query", "limit"].
type Issue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError is returned when a payload does not satisfy a schema.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", strings.Join(is.Loc, "."), is.Msg)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(parts, "; "))
}

// Flatten validates payload against s and returns a plain field->value record
// holding only declared fields. Keys not declared by s are dropped. Numbers decoded
// as float64 or json.Number are coerced to the declared type.
func (s *Schema) Flatten(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.fields))
	var issues []Issue
	rules := map[string]any{}

	for _, f := range s.fields {
		raw, present := payload[f.Name]
		if !present {
			if f.Required {
				issues = append(issues, Issue{Loc: []string{"body", f.Name}, Msg: "field required", Type: "value_error.missing"})
			}
			continue
		}

		v, err := coerce(f, raw)
		if err != nil {
			issues = append(issues, *err)
			continue
		}
		out[f.Name] = v
		if f.Rules != "" && v != nil {
			rules[f.Name] = f.Rules
		}
	}

	if len(rules) > 0 {
		for name, res := range validate.ValidateMap(out, rules) {
			issues = append(issues, ruleIssue(name, res))
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Schema: s.name, Issues: issues}
	}
	return out, nil
}

func ruleIssue(field string, res any) Issue {
	is := Issue{Loc: []string{"body", field}, Msg: "invalid value", Type: "value_error"}
	if errs, ok := res.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		is.Type = "value_error." + fe.Tag()
		is.Msg = fmt.Sprintf("failed on the %q rule", fe.Tag())
		if fe.Param() != "" {
			is.Msg = fmt.Sprintf("failed on the %q rule (%s)", fe.Tag(), fe.Param())
		}
	}
	return is
}

func coerce(f Field, raw any) (any, *Issue) {
	if raw == nil {
		if f.Required {
			return nil, &Issue{Loc: []string{"body", f.Name}, Msg: "none is not an allowed value", Type: "type_error.none.not_allowed"}
		}
		return nil, nil
	}

	v, err := convert(f.Type, raw)
	if err != nil {
		return nil, &Issue{
			Loc:  []string{"body", f.Name},
			Msg:  fmt.Sprintf("value is not a valid %s", f.Type),
			Type: "type_error." + f.Type.String(),
		}
	}
	return v, nil
}

func convert(t FieldType, raw any) (any, error) {
	switch t {
	case Int:
		switch v := raw.(type) {
		case json.Number:
			return v.Int64()
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not integral", v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case Float:
		switch v := raw.(type) {
		case json.Number:
			return v.Float64()
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case String:
		if v, ok := raw.(string); ok {
			return v, nil
		}
	case Bool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case UUID:
		switch v := raw.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			return uuid.Parse(v)
		}
	case Time:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			return time.Parse(time.RFC3339Nano, v)
		}
	case Decimal:
		switch v := raw.(type) {
		case decimal.Decimal:
			return v, nil
		case json.Number:
			return decimal.NewFromString(v.String())
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		}
	case Any:
		if n, ok := raw.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			return n.Float64()
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unexpected %T for %s", raw, t)
}

// ParseValue converts the textual form of a value, eg a path segment, to type t.
func ParseValue(t FieldType, raw string) (any, error) {
	switch t {
	case Int:
		return strconv.ParseInt(raw, 10, 64)
	case Float:
		return strconv.ParseFloat(raw, 64)
	case Bool:
		return strconv.ParseBool(raw)
	case UUID:
		return uuid.Parse(raw)
	case Time:
		return time.Parse(time.RFC3339Nano, raw)
	case Decimal:
		return decimal.NewFromString(raw)
	}
	return raw, nil
}

// Normalize rewrites, in place, the values of rec that storage drivers return in a
// driver-specific form (eg []byte text, [16]byte uuids, int32 columns) into the
// canonical Go type for each declared field. Values it cannot interpret are left untouched.
func (s *Schema) Normalize(rec map[string]any) {
	for _, f := range s.fields {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		rec[f.Name] = normalize(f.Type, v)
	}
}

func normalize(t FieldType, v any) any {
	if b, ok := v.([]byte); ok && t != UUID {
		v = string(b)
	}

	switch t {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int16:
			return int64(n)
		case int32:
			return int64(n)
		case uint32:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	case Float:
		switch n := v.(type) {
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		}
	case UUID:
		switch u := v.(type) {
		case [16]byte:
			return uuid.UUID(u)
		case string:
			if id, err := uuid.Parse(u); err == nil {
				return id
			}
		case []byte:
			if id, err := uuid.ParseBytes(u); err == nil {
				return id
			}
			if id, err := uuid.FromBytes(u); err == nil {
				return id
			}
		}
	case Decimal:
		if d, err := toDecimal(v); err == nil {
			return d
		}
	case Time:
		if s, ok := v.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts
				}
			}
		}
	}
	return v
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case string:
		return decimal.NewFromString(d)
	case float64:
		return decimal.NewFromFloat(d), nil
	case int64:
		return decimal.NewFromInt(d), nil
	case driver.Valuer:
		dv, err := d.Value()
		if err != nil {
			return decimal.Decimal{}, err
		}
		if s, ok := dv.(string); ok {
			return decimal.NewFromString(s)
		}
	}
	return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", v)
}
