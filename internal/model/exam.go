package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamKind enumerates the kinds of exam a code can unlock.
type ExamKind string

const (
	ExamKindRegular     ExamKind = "EXAM"
	ExamKindProgramming ExamKind = "PROGRAMMING"
)

// ParseExamKind validates a kind string from a request or a database row.
func ParseExamKind(s string) (ExamKind, error) {
	switch k := ExamKind(s); k {
	case ExamKindRegular, ExamKindProgramming:
		return k, nil
	default:
		return "", fmt.Errorf("unknown exam kind %q", s)
	}
}

// Exam holds the policy fields of an exam needed to admit a student.
// Question content lives with the authoring side and is not loaded here.
type Exam struct {
	ID                  uuid.UUID `json:"id"`
	Kind                ExamKind  `json:"kind"`
	Title               string    `json:"title"`
	AuthorID            int64     `json:"author_id"`
	DurationMinutes     int       `json:"duration_minutes"`
	QuestionCount       int       `json:"question_count"`
	TeacherPasswordHash *string   `json:"-"`
	MaxAttempts         int       `json:"max_attempts"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Duration returns the exam's time allowance.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// RequiresTeacherPassword reports whether a proctor password gates authorization.
func (e *Exam) RequiresTeacherPassword() bool {
	return e.TeacherPasswordHash != nil && *e.TeacherPasswordHash != ""
}

// Info returns the read-only projection that is safe to send to a student.
func (e *Exam) Info() ExamInfo {
	return ExamInfo{
		Kind:                    e.Kind,
		ExamID:                  e.ID,
		Title:                   e.Title,
		DurationMinutes:         e.DurationMinutes,
		QuestionCount:           e.QuestionCount,
		RequiresTeacherPassword: e.RequiresTeacherPassword(),
	}
}

// ExamInfo is the projection returned by code lookups and authorization.
type ExamInfo struct {
	Kind                    ExamKind  `json:"kind"`
	ExamID                  uuid.UUID `json:"examId"`
	Title                   string    `json:"title"`
	DurationMinutes         int       `json:"durationMinutes"`
	QuestionCount           int       `json:"questionCount"`
	RequiresTeacherPassword bool      `json:"requiresTeacherPassword"`
}

// SetTeacherPasswordRequest sets, or with an empty password clears, an exam's proctor gate.
type SetTeacherPasswordRequest struct {
	Password string `json:"password" binding:"omitempty,min=4,max=72"`
}
