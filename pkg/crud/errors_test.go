package crud

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&NotFoundError{Key: 1}, http.StatusNotFound},
		{fmt.Errorf("get: %w", &NotFoundError{Key: 1}), http.StatusNotFound},
		{&ConflictError{Err: ErrUniqueViolation}, http.StatusUnprocessableEntity},
		{&PaginationError{Field: "skip"}, http.StatusUnprocessableEntity},
		{&KeyError{Raw: "x", Type: schema.Int}, http.StatusUnprocessableEntity},
		{&schema.ValidationError{Schema: "Potato"}, http.StatusUnprocessableEntity},
		{ErrUniqueViolation, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestNotFoundErrorsAreDistinct(t *testing.T) {
	a := &NotFoundError{Key: int64(1)}
	b := &NotFoundError{Key: int64(2)}
	assert.NotSame(t, a, b)
	assert.Equal(t, "item 1 not found", a.Error())
	assert.Equal(t, a.Detail(), b.Detail())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, &schema.ValidationError{Schema: "Potato", Issues: []schema.Issue{
		{Loc: []string{"body", "mass"}, Msg: "value is not a valid float", Type: "type_error.float"},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"detail":[{"loc":["body","mass"],"msg":"value is not a valid float","type":"type_error.float"}]}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteError(w, &ConflictError{Err: ErrUniqueViolation})
	assert.JSONEq(t, `{"detail":"Key already exists"}`, w.Body.String())
}
