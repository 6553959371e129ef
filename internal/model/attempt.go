package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ExamAttempt is a student's instance of taking an exam.
// TotalScore is written by the grading side; it stays NULL here.
type ExamAttempt struct {
	ID          int64          `json:"id"`
	Kind        ExamKind       `json:"kind"`
	StudentID   int64          `json:"student_id"`
	ExamID      uuid.UUID      `json:"exam_id"`
	ExamCodeID  *int64         `json:"exam_code_id,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	FinalizedAt *time.Time     `json:"finalized_at,omitempty"`
	TotalScore  pgtype.Numeric `json:"total_score"`
}

// Ref returns the tagged reference stored on launch session rows.
func (a *ExamAttempt) Ref() AttemptRef {
	return NewAttemptRef(a.Kind, a.ID)
}

// Finalized reports whether the attempt has been closed.
func (a *ExamAttempt) Finalized() bool {
	return a.FinalizedAt != nil
}

// Deadline is the instant the attempt's time allowance runs out.
func (a *ExamAttempt) Deadline(duration time.Duration) time.Time {
	return a.StartTime.Add(duration)
}

// AttemptAnswer is one saved answer of an attempt. SavedAt is when the app
// sent it; a write never replaces an answer with a later SavedAt.
type AttemptAnswer struct {
	QuestionID string    `json:"questionId"`
	Answer     string    `json:"answer"`
	SavedAt    time.Time `json:"savedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ClosedAttempt is an attempt finalized by the sweeper together with the
// launch sessions that were invalidated with it.
type ClosedAttempt struct {
	Attempt  AttemptRef
	Sessions []int64
}

// NewerThan reports whether a should replace b.
func (a AttemptAnswer) NewerThan(b AttemptAnswer) bool {
	return !a.SavedAt.Before(b.SavedAt)
}

// SaveAnswerRequest is the payload for PUT /api/exam-app/session/answers.
type SaveAnswerRequest struct {
	QuestionID string `json:"questionId" binding:"required,max=64,printascii"`
	Answer     string `json:"answer" binding:"max=65536"`
}

// SessionState is what the exam-taking app reloads after a restart.
type SessionState struct {
	AttemptID        int64             `json:"attemptId"`
	Exam             ExamInfo          `json:"exam"`
	StartTimeUTC     time.Time         `json:"startTimeUtc"`
	RemainingSeconds float64           `json:"remainingSeconds"`
	SessionExpiresAt time.Time         `json:"sessionExpiresAtUtc"`
	Answers          map[string]string `json:"answers"`
}
