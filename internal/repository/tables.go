package repository

import (
	"fmt"

	"github.com/stemsi/examgate/internal/model"
)

// kindTables names the tables and FK columns that differ between exam kinds.
// Values are fixed identifiers, never user input, so they are safe to format
// into SQL.
type kindTables struct {
	exams      string
	codes      string
	attempts   string
	answers    string
	examCol    string // exam FK on code and attempt rows
	codeCol    string // code FK on authorization and attempt rows
	attemptCol string // attempt FK on launch session rows
}

var tablesByKind = map[model.ExamKind]kindTables{
	model.ExamKindRegular: {
		exams:      "exams",
		codes:      "exam_codes",
		attempts:   "exam_attempts",
		answers:    "exam_attempt_answers",
		examCol:    "exam_id",
		codeCol:    "exam_code_id",
		attemptCol: "exam_attempt_id",
	},
	model.ExamKindProgramming: {
		exams:      "programming_exams",
		codes:      "programming_exam_codes",
		attempts:   "programming_exam_attempts",
		answers:    "programming_exam_attempt_answers",
		examCol:    "programming_exam_id",
		codeCol:    "programming_exam_code_id",
		attemptCol: "programming_exam_attempt_id",
	},
}

func tablesFor(kind model.ExamKind) (kindTables, error) {
	t, ok := tablesByKind[kind]
	if !ok {
		return kindTables{}, fmt.Errorf("unknown exam kind %q", kind)
	}
	return t, nil
}

// examColumns lists exam policy columns under alias e.
const examColumns = `e.id, e.title, e.author_id, e.duration_minutes, e.question_count,
	e.teacher_password_hash, e.max_attempts, e.created_at, e.updated_at`

func (t kindTables) codeColumns() string {
	return fmt.Sprintf(`c.id, c.code, c.%s, c.created_by, c.expires_at, c.max_uses, c.uses_so_far, c.created_at`, t.examCol)
}

func (t kindTables) attemptColumns() string {
	return fmt.Sprintf(`a.id, a.student_id, a.%s, a.%s, a.start_time, a.finalized_at, a.total_score`, t.examCol, t.codeCol)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func examDest(e *model.Exam) []any {
	return []any{&e.ID, &e.Title, &e.AuthorID, &e.DurationMinutes, &e.QuestionCount,
		&e.TeacherPasswordHash, &e.MaxAttempts, &e.CreatedAt, &e.UpdatedAt}
}

func codeDest(c *model.ExamCode) []any {
	return []any{&c.ID, &c.Code, &c.ExamID, &c.CreatedBy, &c.ExpiresAt, &c.MaxUses, &c.UsesSoFar, &c.CreatedAt}
}

func attemptDest(a *model.ExamAttempt) []any {
	return []any{&a.ID, &a.StudentID, &a.ExamID, &a.ExamCodeID, &a.StartTime, &a.FinalizedAt, &a.TotalScore}
}

func scanExam(row rowScanner, kind model.ExamKind) (*model.Exam, error) {
	e := &model.Exam{Kind: kind}
	if err := row.Scan(examDest(e)...); err != nil {
		return nil, err
	}
	return e, nil
}

func scanAttempt(row rowScanner, kind model.ExamKind) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{Kind: kind}
	if err := row.Scan(attemptDest(a)...); err != nil {
		return nil, err
	}
	return a, nil
}
