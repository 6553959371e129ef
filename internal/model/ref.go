package model

import "errors"

// ErrInvalidRef is returned when a row does not reference exactly one target.
var ErrInvalidRef = errors.New("row must reference exactly one target")

// ref is the shared tagged-variant payload behind CodeRef and AttemptRef.
// The fields are unexported so a value can only be built through a
// constructor naming exactly one variant.
type ref struct {
	kind ExamKind
	id   int64
}

func (r ref) columns() (regular, programming *int64) {
	id := r.id
	switch r.kind {
	case ExamKindRegular:
		return &id, nil
	case ExamKindProgramming:
		return nil, &id
	}
	return nil, nil
}

func refFromColumns(regular, programming *int64) (ref, error) {
	switch {
	case regular != nil && programming == nil:
		return ref{kind: ExamKindRegular, id: *regular}, nil
	case programming != nil && regular == nil:
		return ref{kind: ExamKindProgramming, id: *programming}, nil
	default:
		return ref{}, ErrInvalidRef
	}
}

// CodeRef identifies the exam code an authorization was issued for:
// either a regular exam code or a programming exam code, never both.
type CodeRef struct{ r ref }

// ExamCodeRef references a regular exam code.
func ExamCodeRef(id int64) CodeRef { return CodeRef{ref{kind: ExamKindRegular, id: id}} }

// ProgrammingCodeRef references a programming exam code.
func ProgrammingCodeRef(id int64) CodeRef { return CodeRef{ref{kind: ExamKindProgramming, id: id}} }

// CodeRefFromColumns rebuilds a CodeRef from its two nullable storage columns.
func CodeRefFromColumns(examCodeID, programmingCodeID *int64) (CodeRef, error) {
	r, err := refFromColumns(examCodeID, programmingCodeID)
	return CodeRef{r}, err
}

func (c CodeRef) Kind() ExamKind { return c.r.kind }
func (c CodeRef) ID() int64      { return c.r.id }
func (c CodeRef) IsZero() bool   { return c.r.kind == "" }

// Columns splits the reference into (exam_code_id, programming_exam_code_id).
func (c CodeRef) Columns() (examCodeID, programmingCodeID *int64) { return c.r.columns() }

// AttemptRef identifies the attempt a launch session belongs to:
// either a regular exam attempt or a programming exam attempt.
type AttemptRef struct{ r ref }

// ExamAttemptRef references a regular exam attempt.
func ExamAttemptRef(id int64) AttemptRef { return AttemptRef{ref{kind: ExamKindRegular, id: id}} }

// ProgrammingAttemptRef references a programming exam attempt.
func ProgrammingAttemptRef(id int64) AttemptRef {
	return AttemptRef{ref{kind: ExamKindProgramming, id: id}}
}

// NewAttemptRef builds the reference for an attempt of the given kind.
func NewAttemptRef(kind ExamKind, id int64) AttemptRef {
	if kind == ExamKindProgramming {
		return ProgrammingAttemptRef(id)
	}
	return ExamAttemptRef(id)
}

// AttemptRefFromColumns rebuilds an AttemptRef from its two nullable storage columns.
func AttemptRefFromColumns(examAttemptID, programmingAttemptID *int64) (AttemptRef, error) {
	r, err := refFromColumns(examAttemptID, programmingAttemptID)
	return AttemptRef{r}, err
}

func (a AttemptRef) Kind() ExamKind { return a.r.kind }
func (a AttemptRef) ID() int64      { return a.r.id }
func (a AttemptRef) IsZero() bool   { return a.r.kind == "" }

// Columns splits the reference into (exam_attempt_id, programming_exam_attempt_id).
func (a AttemptRef) Columns() (examAttemptID, programmingAttemptID *int64) { return a.r.columns() }
