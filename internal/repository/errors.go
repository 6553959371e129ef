package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrCodeUnavailable  = errors.New("exam code not found, expired or exhausted")
	ErrDuplicateCode    = errors.New("exam code already exists")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrAttemptFinalized = errors.New("attempt already finalized")
)

// PostgreSQL error codes the repositories translate.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// racedAttempt maps a lost attempt-creation race. When the insert yielded to a
// concurrent start and the winner's row is not visible as open, the caller
// must retry rather than see a bare "no rows".
func racedAttempt(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return err
}

// mapConflict turns unique violations and lost serialization races into ErrConflict.
func mapConflict(err error) error {
	switch pgCode(err) {
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return ErrConflict
	}
	return err
}
