package pgx

import (
	"errors"
	"fmt"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

// translate wraps driver errors in the crud sentinels they correspond to.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", crud.ErrUniqueViolation, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", crud.ErrNoRows, err)
	}
	return err
}
