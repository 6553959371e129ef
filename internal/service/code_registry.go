package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
)

// CodeResolver looks up a usable exam code.
type CodeResolver interface {
	Resolve(ctx context.Context, code string, now time.Time) (*model.ResolvedCode, error)
}

// CodeRegistry validates and resolves exam access codes.
type CodeRegistry struct {
	codes CodeResolver
	now   func() time.Time
}

// NewCodeRegistry creates a new CodeRegistry.
func NewCodeRegistry(codes CodeResolver) *CodeRegistry {
	return &CodeRegistry{codes: codes, now: time.Now}
}

// ResolveCode returns the code and its exam when the code is usable right now.
// Unknown, expired and exhausted codes all return ErrInvalidCode.
func (r *CodeRegistry) ResolveCode(ctx context.Context, code string) (*model.ResolvedCode, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	rc, err := r.codes.Resolve(ctx, code, r.now())
	if err != nil {
		if errors.Is(err, repository.ErrCodeUnavailable) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("resolve code: %w", err)
	}
	return rc, nil
}

// GetExamInfo returns the student-safe projection of the exam a code unlocks.
func (r *CodeRegistry) GetExamInfo(ctx context.Context, code string) (*model.ExamInfo, error) {
	rc, err := r.ResolveCode(ctx, code)
	if err != nil {
		return nil, err
	}
	info := rc.Exam.Info()
	return &info, nil
}
