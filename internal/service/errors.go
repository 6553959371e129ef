package service

import "errors"

// Exam access errors. Every failure of ResolveCode, Authorize and Start is
// one of these or an unexpected storage error.
var (
	// ErrInvalidCode covers unknown, expired and exhausted codes alike.
	ErrInvalidCode                   = errors.New("invalid exam code")
	ErrTeacherPasswordRequired       = errors.New("teacher password required")
	ErrTeacherPasswordInvalid        = errors.New("teacher password invalid")
	ErrInvalidOrExpiredAuthorization = errors.New("invalid or expired authorization")
	ErrAttemptAlreadyFinalized       = errors.New("attempt already finalized")
	ErrStorageConflict               = errors.New("storage conflict, please retry")
	ErrInvalidLaunchSession          = errors.New("invalid or expired launch session")
)

// Instructor code management errors.
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrCodeNotFound    = errors.New("exam code not found")
	ErrNotExamAuthor   = errors.New("only the exam author can manage its codes")
	ErrCodeTaken       = errors.New("exam code already in use")
	ErrExpiryInPast    = errors.New("code expiry must be in the future")
	ErrCodeGeneration  = errors.New("could not generate a unique exam code")
	ErrInvalidExamKind = errors.New("invalid exam kind")
)
