package crud

import (
	"fmt"
	"net/http"
	"strconv"
)

// Pagination is the validated {skip, limit} window of a list request.
// A nil Limit means unbounded.
type Pagination struct {
	Skip  int  `json:"skip"`
	Limit *int `json:"limit"`
}

// PaginationOptions is the explicit form of a pagination request together with
// its ceiling. MaxLimit 0 means no ceiling.
type PaginationOptions struct {
	Skip     int
	Limit    *int
	MaxLimit int
}

// Validate applies ValidatePagination to o.
func (o PaginationOptions) Validate() (Pagination, error) {
	return ValidatePagination(o.Skip, o.Limit, o.MaxLimit)
}

// PaginationFunc extracts a validated Pagination from a request.
type PaginationFunc func(r *http.Request) (Pagination, error)

// ValidatePagination applies the pagination rules in order: skip must not be
// negative, limit (when set) must be positive, and must not exceed maxLimit when
// maxLimit is positive.
func ValidatePagination(skip int, limit *int, maxLimit int) (Pagination, error) {
	if skip < 0 {
		return Pagination{}, &PaginationError{
			Field: "skip",
			Msg:   "skip query parameter must be greater or equal to zero",
		}
	}

	if limit != nil {
		if *limit <= 0 {
			return Pagination{}, &PaginationError{
				Field: "limit",
				Msg:   "limit query parameter must be greater than zero",
			}
		}
		if maxLimit > 0 && *limit > maxLimit {
			return Pagination{}, &PaginationError{
				Field: "limit",
				Msg:   fmt.Sprintf("limit query parameter must be less than %d", maxLimit),
			}
		}
	}

	return Pagination{Skip: skip, Limit: limit}, nil
}

// NewPaginationValidator returns a PaginationFunc reading the skip and limit query
// parameters. skip defaults to 0; limit defaults to maxLimit, or unbounded when
// maxLimit is 0.
func NewPaginationValidator(maxLimit int) PaginationFunc {
	return func(r *http.Request) (Pagination, error) {
		q := r.URL.Query()

		skip := 0
		if raw := q.Get("skip"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Pagination{}, &PaginationError{Field: "skip", Msg: "value is not a valid integer"}
			}
			skip = n
		}

		var limit *int
		if maxLimit > 0 {
			l := maxLimit
			limit = &l
		}
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Pagination{}, &PaginationError{Field: "limit", Msg: "value is not a valid integer"}
			}
			limit = &n
		}

		return PaginationOptions{Skip: skip, Limit: limit, MaxLimit: maxLimit}.Validate()
	}
}
