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

// AuthorizationRepository stores exam-app authorizations.
// It implements token.Backend for *model.ExamAppAuthorization.
type AuthorizationRepository struct {
	pool *pgxpool.Pool
}

// NewAuthorizationRepository creates a new AuthorizationRepository.
func NewAuthorizationRepository(pool *pgxpool.Pool) *AuthorizationRepository {
	return &AuthorizationRepository{pool: pool}
}

var _ token.Backend[*model.ExamAppAuthorization] = (*AuthorizationRepository)(nil)

// IssueParams describes one authorization to issue.
type IssueParams struct {
	StudentID int64
	Code      model.CodeRef
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueResult reports the stored authorization and how many older ones it replaced.
type IssueResult struct {
	Authorization *model.ExamAppAuthorization
	Superseded    int64
}

const authorizationColumns = `id, student_id, exam_code_id, programming_exam_code_id, token_hash,
	issued_at, expires_at, consumed_at, consumed_reason`

func scanAuthorization(row rowScanner) (*model.ExamAppAuthorization, error) {
	a := &model.ExamAppAuthorization{}
	var examCodeID, programmingCodeID *int64
	if err := row.Scan(&a.ID, &a.StudentID, &examCodeID, &programmingCodeID, &a.TokenHash,
		&a.IssuedAt, &a.ExpiresAt, &a.ConsumedAt, &a.ConsumedReason); err != nil {
		return nil, err
	}
	code, err := model.CodeRefFromColumns(examCodeID, programmingCodeID)
	if err != nil {
		return nil, fmt.Errorf("authorization %d: %w", a.ID, err)
	}
	a.Code = code
	return a, nil
}

// Issue consumes one use of the code and stores a new authorization in a
// single transaction. The use counter is bumped with a conditional UPDATE, so
// concurrent callers racing for the last use serialize on the code row and
// only as many succeed as there are uses left. Any live authorization the
// student already holds for the same code is consumed as SUPERSEDED; rows
// that already ran out are closed as EXPIRED at their own expiry.
//
// Returns ErrCodeUnavailable when the code expired or ran out of uses.
func (r *AuthorizationRepository) Issue(ctx context.Context, p IssueParams) (*IssueResult, error) {
	t, err := tablesFor(p.Code.Kind())
	if err != nil {
		return nil, err
	}
	a := &model.ExamAppAuthorization{
		StudentID: p.StudentID,
		Code:      p.Code,
		TokenHash: p.TokenHash,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
	}
	res := &IssueResult{Authorization: a}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET uses_so_far = uses_so_far + 1
			 WHERE id = $1 AND expires_at > $2
			   AND (max_uses IS NULL OR uses_so_far < max_uses)`, t.codes),
			p.Code.ID(), p.IssuedAt)
		if err != nil {
			return fmt.Errorf("consume code use: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCodeUnavailable
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE exam_app_authorizations
			 SET consumed_at = expires_at, consumed_reason = $4
			 WHERE student_id = $1 AND %s = $2 AND consumed_at IS NULL AND expires_at <= $3`, t.codeCol),
			p.StudentID, p.Code.ID(), p.IssuedAt, model.ConsumeReasonExpired); err != nil {
			return fmt.Errorf("expire authorizations: %w", err)
		}

		tag, err = tx.Exec(ctx,
			fmt.Sprintf(`UPDATE exam_app_authorizations
			 SET consumed_at = $3, consumed_reason = $4
			 WHERE student_id = $1 AND %s = $2 AND consumed_at IS NULL AND expires_at > $3`, t.codeCol),
			p.StudentID, p.Code.ID(), p.IssuedAt, model.ConsumeReasonSuperseded)
		if err != nil {
			return fmt.Errorf("supersede authorizations: %w", err)
		}
		res.Superseded = tag.RowsAffected()

		examCodeID, programmingCodeID := p.Code.Columns()
		if err := tx.QueryRow(ctx,
			`INSERT INTO exam_app_authorizations
			   (student_id, exam_code_id, programming_exam_code_id, token_hash, issued_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			p.StudentID, examCodeID, programmingCodeID, p.TokenHash, p.IssuedAt, p.ExpiresAt,
		).Scan(&a.ID); err != nil {
			return mapConflict(fmt.Errorf("insert authorization: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FindLiveByHash returns the unconsumed, unexpired authorization with the given hash.
func (r *AuthorizationRepository) FindLiveByHash(ctx context.Context, hash string, now time.Time) (*model.ExamAppAuthorization, error) {
	a, err := scanAuthorization(r.pool.QueryRow(ctx,
		`SELECT `+authorizationColumns+` FROM exam_app_authorizations
		 WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > $2`, hash, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	return a, err
}

// InvalidateByHash consumes a live authorization without starting an attempt.
func (r *AuthorizationRepository) InvalidateByHash(ctx context.Context, hash string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_app_authorizations SET consumed_at = $2, consumed_reason = $3
		 WHERE token_hash = $1 AND consumed_at IS NULL`, hash, now, model.ConsumeReasonSuperseded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

// DeleteExpired removes authorizations that expired or were consumed before cutoff.
func (r *AuthorizationRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exam_app_authorizations WHERE expires_at < $1 OR consumed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
