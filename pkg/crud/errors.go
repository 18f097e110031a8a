package crud

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/edgeflare/crudrouter/pkg/schema"
)

// Storage sessions wrap these sentinels so the Backend can classify failures
// without knowing the driver.
var (
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrNoRows          = errors.New("no rows in result set")
)

// HTTPError is an error that knows its HTTP status and response detail.
// WriteError renders it as {"detail": Detail()}.
type HTTPError interface {
	error
	StatusCode() int
	Detail() any
}

// NotFoundError is returned when no record matches a primary key.
type NotFoundError struct {
	Key any
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("item %v not found", e.Key) }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }
func (e *NotFoundError) Detail() any     { return "Item not found" }

// ConflictError is returned when a write violates a uniqueness constraint.
// The transaction has been rolled back by the time it is returned.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string   { return "Key already exists" }
func (e *ConflictError) Unwrap() error   { return e.Err }
func (e *ConflictError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *ConflictError) Detail() any     { return "Key already exists" }

// PaginationError is returned for an invalid skip or limit query parameter.
type PaginationError struct {
	Field string
	Msg   string
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}
func (e *PaginationError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *PaginationError) Detail() any {
	return []schema.Issue{{Loc: []string{"query", e.Field}, Msg: e.Msg, Type: "type_error.integer"}}
}

// KeyError is returned when a path primary key cannot be parsed as the key type.
type KeyError struct {
	Raw  string
	Type schema.FieldType
	Err  error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid key %q: %v", e.Raw, e.Err)
}
func (e *KeyError) Unwrap() error   { return e.Err }
func (e *KeyError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *KeyError) Detail() any {
	return []schema.Issue{{
		Loc:  []string{"path", "item_id"},
		Msg:  fmt.Sprintf("value is not a valid %s", e.Type),
		Type: "type_error." + e.Type.String(),
	}}
}

// StatusCode maps err onto an HTTP status. Unclassified errors are 500.
func StatusCode(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteError renders err as a JSON {"detail": ...} body with the status from StatusCode.
// Internal errors are not echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	var he HTTPError
	if errors.As(err, &he) {
		httputil.JSON(w, he.StatusCode(), httputil.ErrorResponse{Detail: he.Detail()})
		return
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		httputil.JSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Detail: ve.Issues})
		return
	}
	httputil.Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
