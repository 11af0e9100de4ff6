package repositories

import (
	"errors"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "record not found")

	// ErrConflict is returned when an insert hits a unique constraint.
	ErrConflict = errors.New("unique constraint violation")

	// ErrStaleVersion is returned when the row changed between read and write.
	ErrStaleVersion = errors.New("escrow version changed concurrently")
)

const pgUniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}
