package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamCode is a shared, reusable code an instructor hands out to unlock an exam.
type ExamCode struct {
	ID        int64     `json:"id"`
	Kind      ExamKind  `json:"kind"`
	Code      string    `json:"code"`
	ExamID    uuid.UUID `json:"exam_id"`
	CreatedBy int64     `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   *int      `json:"max_uses,omitempty"`
	UsesSoFar int       `json:"uses_so_far"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the code is inside its validity window and has uses left.
func (c *ExamCode) Usable(now time.Time) bool {
	if !now.Before(c.ExpiresAt) {
		return false
	}
	return c.MaxUses == nil || c.UsesSoFar < *c.MaxUses
}

// Ref returns the tagged reference stored on authorization rows.
func (c *ExamCode) Ref() CodeRef {
	if c.Kind == ExamKindProgramming {
		return ProgrammingCodeRef(c.ID)
	}
	return ExamCodeRef(c.ID)
}

// ResolvedCode pairs a usable code with the exam it unlocks.
type ResolvedCode struct {
	Code ExamCode
	Exam Exam
}

// CreateExamCodeRequest is the payload for an instructor creating a code.
// Code is generated when omitted.
type CreateExamCodeRequest struct {
	Kind         ExamKind  `json:"kind" binding:"required,oneof=EXAM PROGRAMMING"`
	ExamID       uuid.UUID `json:"examId" binding:"required"`
	Code         string    `json:"code" binding:"omitempty,examcode"`
	ExpiresAtUTC time.Time `json:"expiresAtUtc" binding:"required"`
	MaxUses      *int      `json:"maxUses" binding:"omitempty,min=1,max=100000"`
}
