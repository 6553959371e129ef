package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/token"
)

// LaunchSessionRepository stores exam-app launch sessions and runs the
// authorization-to-attempt exchange. It implements token.Backend for
// *model.ExamAppLaunchSession.
type LaunchSessionRepository struct {
	pool *pgxpool.Pool
}

// NewLaunchSessionRepository creates a new LaunchSessionRepository.
func NewLaunchSessionRepository(pool *pgxpool.Pool) *LaunchSessionRepository {
	return &LaunchSessionRepository{pool: pool}
}

var _ token.Backend[*model.ExamAppLaunchSession] = (*LaunchSessionRepository)(nil)

// StartParams describes one exchange of an authorization for a launch session.
type StartParams struct {
	AuthorizationHash string
	StudentID         int64
	SessionHash       string
	Now               time.Time
	// Grace extends the session past the attempt deadline so a final save
	// in flight at the deadline still authenticates.
	Grace time.Duration
}

// StartOutcome is the committed result of a successful Start.
type StartOutcome struct {
	Authorization *model.ExamAppAuthorization
	Exam          *model.Exam
	Attempt       *model.ExamAttempt
	Session       *model.ExamAppLaunchSession
	Resumed       bool
	// Superseded holds the IDs of launch sessions this start invalidated.
	Superseded []int64
}

const launchSessionColumns = `id, student_id, exam_attempt_id, programming_exam_attempt_id, token_hash,
	issued_at, expires_at, invalidated_at`

func scanLaunchSession(row rowScanner) (*model.ExamAppLaunchSession, error) {
	s := &model.ExamAppLaunchSession{}
	var examAttemptID, programmingAttemptID *int64
	if err := row.Scan(&s.ID, &s.StudentID, &examAttemptID, &programmingAttemptID, &s.TokenHash,
		&s.IssuedAt, &s.ExpiresAt, &s.InvalidatedAt); err != nil {
		return nil, err
	}
	ref, err := model.AttemptRefFromColumns(examAttemptID, programmingAttemptID)
	if err != nil {
		return nil, fmt.Errorf("launch session %d: %w", s.ID, err)
	}
	s.Attempt = ref
	return s, nil
}

// Start exchanges a live authorization for a launch session in one
// transaction:
//
//  1. lock and consume the authorization (STARTED);
//  2. lock the student's open attempt for the exam, or create one;
//  3. invalidate every live session of that attempt;
//  4. insert the new session, expiring at the attempt deadline plus grace.
//
// Errors:
//   - token.ErrNotFound when the authorization is unknown, consumed, expired
//     or belongs to another student;
//   - ErrAttemptFinalized when the open attempt ran out of time (it is
//     finalized and that is committed) or the exam's attempt limit is used up.
func (r *LaunchSessionRepository) Start(ctx context.Context, p StartParams) (*StartOutcome, error) {
	out := &StartOutcome{}
	timedOut := false

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		auth, err := scanAuthorization(tx.QueryRow(ctx,
			`SELECT `+authorizationColumns+` FROM exam_app_authorizations
			 WHERE token_hash = $1 AND student_id = $2
			   AND consumed_at IS NULL AND expires_at > $3
			 FOR UPDATE`, p.AuthorizationHash, p.StudentID, p.Now))
		if errors.Is(err, pgx.ErrNoRows) {
			return token.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock authorization: %w", err)
		}
		out.Authorization = auth

		reason := model.ConsumeReasonStarted
		if _, err := tx.Exec(ctx,
			`UPDATE exam_app_authorizations SET consumed_at = $2, consumed_reason = $3 WHERE id = $1`,
			auth.ID, p.Now, reason); err != nil {
			return fmt.Errorf("consume authorization: %w", err)
		}
		auth.ConsumedAt = &p.Now
		auth.ConsumedReason = &reason

		kind := auth.Code.Kind()
		t, err := tablesFor(kind)
		if err != nil {
			return err
		}

		exam, err := scanExam(tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT %s FROM %s c JOIN %s e ON e.id = c.%s WHERE c.id = $1`,
				examColumns, t.codes, t.exams, t.examCol), auth.Code.ID()), kind)
		if err != nil {
			return fmt.Errorf("load exam: %w", err)
		}
		out.Exam = exam

		attempt, err := lockOpenAttempt(ctx, tx, t, kind, p.StudentID, exam)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock attempt: %w", err)
		}

		if attempt != nil {
			deadline := attempt.Deadline(exam.Duration())
			if !p.Now.Before(deadline) {
				if _, err := tx.Exec(ctx,
					fmt.Sprintf(`UPDATE %s SET finalized_at = $2 WHERE id = $1`, t.attempts),
					attempt.ID, deadline); err != nil {
					return fmt.Errorf("finalize timed out attempt: %w", err)
				}
				if _, err := invalidateSessions(ctx, tx, attempt.Ref(), p.Now); err != nil {
					return err
				}
				timedOut = true
				return nil
			}
			out.Resumed = true
		} else {
			var finalized int
			if err := tx.QueryRow(ctx,
				fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE student_id = $1 AND %s = $2 AND finalized_at IS NOT NULL`,
					t.attempts, t.examCol), p.StudentID, exam.ID,
			).Scan(&finalized); err != nil {
				return fmt.Errorf("count attempts: %w", err)
			}
			if finalized >= exam.MaxAttempts {
				return ErrAttemptFinalized
			}

			codeID := auth.Code.ID()
			attempt, err = scanAttempt(tx.QueryRow(ctx,
				fmt.Sprintf(`INSERT INTO %s AS a (student_id, %s, %s, start_time)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (student_id, %s) WHERE finalized_at IS NULL DO NOTHING
				 RETURNING %s`, t.attempts, t.examCol, t.codeCol, t.examCol, t.attemptColumns()),
				p.StudentID, exam.ID, codeID, p.Now), kind)
			if errors.Is(err, pgx.ErrNoRows) {
				// Another start created the attempt between our read and insert.
				attempt, err = lockOpenAttempt(ctx, tx, t, kind, p.StudentID, exam)
				if err != nil {
					return racedAttempt(err)
				}
				out.Resumed = true
			}
			if err != nil {
				return fmt.Errorf("create attempt: %w", err)
			}
		}
		out.Attempt = attempt

		out.Superseded, err = invalidateSessions(ctx, tx, attempt.Ref(), p.Now)
		if err != nil {
			return err
		}

		examAttemptID, programmingAttemptID := attempt.Ref().Columns()
		s := &model.ExamAppLaunchSession{
			StudentID: p.StudentID,
			Attempt:   attempt.Ref(),
			TokenHash: p.SessionHash,
			IssuedAt:  p.Now,
			ExpiresAt: attempt.Deadline(exam.Duration()).Add(p.Grace),
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO exam_app_launch_sessions
			   (student_id, token_hash, exam_attempt_id, programming_exam_attempt_id, issued_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			s.StudentID, s.TokenHash, examAttemptID, programmingAttemptID, s.IssuedAt, s.ExpiresAt,
		).Scan(&s.ID); err != nil {
			return mapConflict(fmt.Errorf("insert launch session: %w", err))
		}
		out.Session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, ErrAttemptFinalized
	}
	return out, nil
}

func lockOpenAttempt(ctx context.Context, tx pgx.Tx, t kindTables, kind model.ExamKind, studentID int64, exam *model.Exam) (*model.ExamAttempt, error) {
	return scanAttempt(tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s a
		 WHERE a.student_id = $1 AND a.%s = $2 AND a.finalized_at IS NULL
		 FOR UPDATE`, t.attemptColumns(), t.attempts, t.examCol),
		studentID, exam.ID), kind)
}

// invalidateSessions closes every live launch session of an attempt and
// returns their IDs.
func invalidateSessions(ctx context.Context, tx pgx.Tx, attempt model.AttemptRef, now time.Time) ([]int64, error) {
	t, err := tablesFor(attempt.Kind())
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		fmt.Sprintf(`UPDATE exam_app_launch_sessions SET invalidated_at = $2
		 WHERE %s = $1 AND invalidated_at IS NULL
		 RETURNING id`, t.attemptCol), attempt.ID(), now)
	if err != nil {
		return nil, fmt.Errorf("invalidate launch sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("invalidate launch sessions: %w", err)
	}
	return ids, nil
}

// FindLiveByHash returns the non-invalidated, unexpired session with the given hash.
func (r *LaunchSessionRepository) FindLiveByHash(ctx context.Context, hash string, now time.Time) (*model.ExamAppLaunchSession, error) {
	s, err := scanLaunchSession(r.pool.QueryRow(ctx,
		`SELECT `+launchSessionColumns+` FROM exam_app_launch_sessions
		 WHERE token_hash = $1 AND invalidated_at IS NULL AND expires_at > $2`, hash, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	return s, err
}

// InvalidateByHash closes a live session.
func (r *LaunchSessionRepository) InvalidateByHash(ctx context.Context, hash string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_app_launch_sessions SET invalidated_at = $2
		 WHERE token_hash = $1 AND invalidated_at IS NULL`, hash, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

// DeleteExpired removes sessions that expired or were invalidated before cutoff.
func (r *LaunchSessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exam_app_launch_sessions WHERE expires_at < $1 OR invalidated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
