package pgx

import (
	"errors"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "potatoes_pkey"}
	err := translate(dup)
	assert.ErrorIs(t, err, crud.ErrUniqueViolation)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)

	assert.ErrorIs(t, translate(pgx.ErrNoRows), crud.ErrNoRows)

	other := &pgconn.PgError{Code: "23502"}
	assert.NotErrorIs(t, translate(other), crud.ErrUniqueViolation)

	plain := errors.New("boom")
	assert.Equal(t, plain, translate(plain))
}
