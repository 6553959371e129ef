package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examgate/internal/model"
)

// AttemptRepository handles exam attempts and their saved answers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetWithExam retrieves an attempt together with the policy of its exam.
func (r *AttemptRepository) GetWithExam(ctx context.Context, ref model.AttemptRef) (*model.ExamAttempt, *model.Exam, error) {
	t, err := tablesFor(ref.Kind())
	if err != nil {
		return nil, nil, err
	}
	a := &model.ExamAttempt{Kind: ref.Kind()}
	e := &model.Exam{Kind: ref.Kind()}
	dest := append(attemptDest(a), examDest(e)...)

	err = r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM %s a JOIN %s e ON e.id = a.%s WHERE a.id = $1`,
			t.attemptColumns(), examColumns, t.attempts, t.exams, t.examCol),
		ref.ID(),
	).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return a, e, nil
}

// Finalize writes the flushed answers and closes an open attempt at the given
// instant in one transaction, then invalidates its launch sessions. Returns
// ErrAttemptFinalized if it was already closed.
func (r *AttemptRepository) Finalize(ctx context.Context, ref model.AttemptRef, at time.Time, flush []model.AttemptAnswer) ([]int64, error) {
	t, err := tablesFor(ref.Kind())
	if err != nil {
		return nil, err
	}
	var invalidated []int64
	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET finalized_at = $2 WHERE id = $1 AND finalized_at IS NULL`, t.attempts),
			ref.ID(), at)
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAttemptFinalized
		}
		for _, a := range flush {
			if err := upsertAnswer(ctx, tx, t, ref, a); err != nil {
				return fmt.Errorf("flush answer %s: %w", a.QuestionID, err)
			}
		}
		invalidated, err = invalidateSessions(ctx, tx, ref, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invalidated, nil
}

// FinalizeOverdue closes every open attempt of one kind whose time ran out
// before now, stamping each at its own deadline, and invalidates the launch
// sessions of each closed attempt.
func (r *AttemptRepository) FinalizeOverdue(ctx context.Context, kind model.ExamKind, now time.Time) ([]model.ClosedAttempt, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var closed []model.ClosedAttempt
	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			fmt.Sprintf(`UPDATE %s a
			 SET finalized_at = a.start_time + make_interval(mins => e.duration_minutes)
			 FROM %s e
			 WHERE e.id = a.%s AND a.finalized_at IS NULL
			   AND a.start_time + make_interval(mins => e.duration_minutes) <= $1
			 RETURNING a.id`,
				t.attempts, t.exams, t.examCol), now)
		if err != nil {
			return fmt.Errorf("finalize overdue attempts: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("finalize overdue attempts: %w", err)
		}
		for _, id := range ids {
			ref := model.NewAttemptRef(kind, id)
			sessions, err := invalidateSessions(ctx, tx, ref, now)
			if err != nil {
				return err
			}
			closed = append(closed, model.ClosedAttempt{Attempt: ref, Sessions: sessions})
		}
		return nil
	})
	if err != nil {
		return nil, mapConflict(err)
	}
	return closed, nil
}

// ListAnswers returns the saved answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, ref model.AttemptRef) ([]model.AttemptAnswer, error) {
	t, err := tablesFor(ref.Kind())
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT question_id, answer, saved_at, updated_at FROM %s WHERE attempt_id = $1 ORDER BY question_id`, t.answers),
		ref.ID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.AttemptAnswer{}
	for rows.Next() {
		var a model.AttemptAnswer
		if err := rows.Scan(&a.QuestionID, &a.Answer, &a.SavedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// UpsertAnswer creates or replaces one answer. See upsertAnswer for the
// ordering rules.
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, ref model.AttemptRef, a model.AttemptAnswer) error {
	t, err := tablesFor(ref.Kind())
	if err != nil {
		return err
	}
	return upsertAnswer(ctx, r.pool, t, ref, a)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// upsertAnswer never replaces a stored answer with an older one, and accepts
// nothing saved after the attempt was finalized. Queue writes may therefore
// land in any order, before or after the finish transaction.
func upsertAnswer(ctx context.Context, db execer, t kindTables, ref model.AttemptRef, a model.AttemptAnswer) error {
	_, err := db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s AS ans (attempt_id, question_id, answer, saved_at)
		 SELECT a.id, $2, $3, $4::timestamptz FROM %s a
		 WHERE a.id = $1 AND (a.finalized_at IS NULL OR $4::timestamptz <= a.finalized_at)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, saved_at = EXCLUDED.saved_at, updated_at = NOW()
		 WHERE ans.saved_at <= EXCLUDED.saved_at`, t.answers, t.attempts),
		ref.ID(), a.QuestionID, a.Answer, a.SavedAt)
	return err
}
