package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.dev/internal/errs"
)

const (
	pgErrUniqueViolation           = "23505"
	pgErrForeignKeyViolation       = "23503"
	pgErrInvalidTextRepresentation = "22P02"
)

// Translate maps a store error into the errs taxonomy. Domain errors pass
// through untouched; anything unrecognised becomes an infrastructure error
// that does not carry the driver's text.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Infra(op, err)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s: duplicate value", errs.ErrConflict, op)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s: referenced record does not exist", errs.ErrNotFound, op)
		case pgErrInvalidTextRepresentation:
			return fmt.Errorf("%w: %s: malformed value", errs.ErrValidation, op)
		}
		return errs.Infra(op, err)
	}
	for _, known := range []error{
		errs.ErrValidation, errs.ErrConflict, errs.ErrNotFound,
		errs.ErrUnauthorized, errs.ErrForbidden, errs.ErrInfrastructure,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return errs.Infra(op, err)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
