package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRacedAttempt(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"winner not visible", pgx.ErrNoRows, ErrConflict},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), ErrConflict},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := racedAttempt(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("racedAttempt(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	other := errors.New("connection reset")
	if got := racedAttempt(other); got != other {
		t.Fatalf("racedAttempt should pass other errors through, got %v", got)
	}
}

func TestMapConflict(t *testing.T) {
	tests := []struct {
		code     string
		conflict bool
	}{
		{pgUniqueViolation, true},
		{pgSerializationFailure, true},
		{pgDeadlockDetected, true},
		{pgForeignKeyViolation, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: tt.code})
			got := mapConflict(err)
			if errors.Is(got, ErrConflict) != tt.conflict {
				t.Fatalf("mapConflict(%s) = %v, conflict want %v", tt.code, got, tt.conflict)
			}
		})
	}
}
