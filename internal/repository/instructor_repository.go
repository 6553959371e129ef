package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examgate/internal/model"
)

var ErrDuplicateEmail = errors.New("instructor with this email already exists")

// InstructorRepository handles instructor data access.
type InstructorRepository struct {
	pool *pgxpool.Pool
}

// NewInstructorRepository creates a new InstructorRepository.
func NewInstructorRepository(pool *pgxpool.Pool) *InstructorRepository {
	return &InstructorRepository{pool: pool}
}

const instructorColumns = `id, email, name, password_hash, created_at, updated_at`

func scanInstructor(row rowScanner) (*model.Instructor, error) {
	i := &model.Instructor{}
	if err := row.Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &i.CreatedAt, &i.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return i, nil
}

// GetByID retrieves an instructor by ID.
func (r *InstructorRepository) GetByID(ctx context.Context, id int64) (*model.Instructor, error) {
	return scanInstructor(r.pool.QueryRow(ctx,
		`SELECT `+instructorColumns+` FROM instructors WHERE id = $1`, id))
}

// GetByEmail retrieves an instructor by email, case-insensitively.
func (r *InstructorRepository) GetByEmail(ctx context.Context, email string) (*model.Instructor, error) {
	return scanInstructor(r.pool.QueryRow(ctx,
		`SELECT `+instructorColumns+` FROM instructors WHERE LOWER(email) = LOWER($1)`, email))
}

// Create inserts a new instructor.
func (r *InstructorRepository) Create(ctx context.Context, i *model.Instructor) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO instructors (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		i.Email, i.Name, i.PasswordHash,
	).Scan(&i.ID, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}
