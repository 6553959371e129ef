package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examgate/internal/model"
)

// ExamRepository handles exam policy data for both exam kinds.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam of the given kind by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, kind model.ExamKind, id uuid.UUID) (*model.Exam, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	e, err := scanExam(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s e WHERE e.id = $1`, examColumns, t.exams), id), kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListByAuthorPaginated retrieves an instructor's exams of one kind with pagination.
func (r *ExamRepository) ListByAuthorPaginated(ctx context.Context, kind model.ExamKind, authorID int64, limit, offset int) ([]model.Exam, int, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE author_id = $1`, t.exams), authorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s e WHERE e.author_id = $1
		 ORDER BY e.created_at DESC LIMIT $2 OFFSET $3`, examColumns, t.exams),
		authorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows, kind)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new exam. e.Kind selects the table.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	t, err := tablesFor(e.Kind)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (title, author_id, duration_minutes, question_count, teacher_password_hash, max_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`, t.exams),
		e.Title, e.AuthorID, e.DurationMinutes, e.QuestionCount, e.TeacherPasswordHash, e.MaxAttempts,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// SetTeacherPassword replaces the proctor password hash of an exam owned by
// authorID. A nil hash removes the gate.
func (r *ExamRepository) SetTeacherPassword(ctx context.Context, kind model.ExamKind, id uuid.UUID, authorID int64, hash *string) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET teacher_password_hash = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND author_id = $3`, t.exams),
		hash, id, authorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
