package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examgate/internal/model"
)

// ExamCodeRepository handles exam codes of both kinds.
type ExamCodeRepository struct {
	pool *pgxpool.Pool
}

// NewExamCodeRepository creates a new ExamCodeRepository.
func NewExamCodeRepository(pool *pgxpool.Pool) *ExamCodeRepository {
	return &ExamCodeRepository{pool: pool}
}

func (t kindTables) resolveSelect(kind model.ExamKind) string {
	return fmt.Sprintf(`SELECT '%s', %s, %s
		FROM %s c JOIN %s e ON e.id = c.%s
		WHERE c.code = $1 AND c.expires_at > $2
		  AND (c.max_uses IS NULL OR c.uses_so_far < c.max_uses)`,
		kind, t.codeColumns(), examColumns, t.codes, t.exams, t.examCol)
}

var resolveQuery = tablesByKind[model.ExamKindRegular].resolveSelect(model.ExamKindRegular) +
	"\nUNION ALL\n" +
	tablesByKind[model.ExamKindProgramming].resolveSelect(model.ExamKindProgramming)

// Resolve finds the usable code matching code exactly (case-sensitive) and
// the exam it unlocks. Codes that are unknown, expired at now, or out of uses
// all yield ErrCodeUnavailable.
func (r *ExamCodeRepository) Resolve(ctx context.Context, code string, now time.Time) (*model.ResolvedCode, error) {
	rc := &model.ResolvedCode{}
	var kind string
	dest := append([]any{&kind}, codeDest(&rc.Code)...)
	dest = append(dest, examDest(&rc.Exam)...)

	if err := r.pool.QueryRow(ctx, resolveQuery, code, now).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeUnavailable
		}
		return nil, err
	}

	k, err := model.ParseExamKind(kind)
	if err != nil {
		return nil, err
	}
	rc.Code.Kind = k
	rc.Exam.Kind = k
	return rc, nil
}

// Create registers the code name platform-wide and inserts the code row.
// c.Kind selects the table; ID, UsesSoFar and CreatedAt are filled in.
func (r *ExamCodeRepository) Create(ctx context.Context, c *model.ExamCode) error {
	t, err := tablesFor(c.Kind)
	if err != nil {
		return err
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO access_code_names (code, kind) VALUES ($1, $2)`, c.Code, c.Kind,
		); err != nil {
			if pgCode(err) == pgUniqueViolation {
				return ErrDuplicateCode
			}
			return err
		}

		err := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (code, %s, created_by, expires_at, max_uses)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, uses_so_far, created_at`, t.codes, t.examCol),
			c.Code, c.ExamID, c.CreatedBy, c.ExpiresAt, c.MaxUses,
		).Scan(&c.ID, &c.UsesSoFar, &c.CreatedAt)
		if err != nil {
			switch pgCode(err) {
			case pgUniqueViolation:
				return ErrDuplicateCode
			case pgForeignKeyViolation:
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}

// GetByID retrieves a code of the given kind.
func (r *ExamCodeRepository) GetByID(ctx context.Context, kind model.ExamKind, id int64) (*model.ExamCode, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	c := &model.ExamCode{Kind: kind}
	err = r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s c WHERE c.id = $1`, t.codeColumns(), t.codes), id,
	).Scan(codeDest(c)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListByExam returns every code of an exam, newest first.
func (r *ExamCodeRepository) ListByExam(ctx context.Context, kind model.ExamKind, examID uuid.UUID) ([]model.ExamCode, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s c WHERE c.%s = $1 ORDER BY c.created_at DESC, c.id DESC`,
			t.codeColumns(), t.codes, t.examCol), examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []model.ExamCode{}
	for rows.Next() {
		c := model.ExamCode{Kind: kind}
		if err := rows.Scan(codeDest(&c)...); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Retire pulls a code's expiry forward to now so no new authorization can be
// issued from it. Only the author of the code's exam may retire it.
// Authorizations already issued keep their own expiry.
func (r *ExamCodeRepository) Retire(ctx context.Context, kind model.ExamKind, id, authorID int64, now time.Time) (*model.ExamCode, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	c := &model.ExamCode{Kind: kind}
	err = r.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s c SET expires_at = LEAST(c.expires_at, $3)
		 FROM %s e
		 WHERE c.id = $1 AND e.id = c.%s AND e.author_id = $2
		 RETURNING %s`, t.codes, t.exams, t.examCol, t.codeColumns()),
		id, authorID, now,
	).Scan(codeDest(c)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
