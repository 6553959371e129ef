package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/metrics"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// minAuthorizationTTL bounds how far a short exam can shrink the authorization window.
const minAuthorizationTTL = 30 * time.Second

// AuthorizationIssuer persists issued authorizations.
type AuthorizationIssuer interface {
	Issue(ctx context.Context, p repository.IssueParams) (*repository.IssueResult, error)
}

// AuthorizationService turns a shared exam code into a single-use,
// student-bound authorization token.
type AuthorizationService struct {
	registry *CodeRegistry
	auths    AuthorizationIssuer
	hasher   *token.Hasher
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewAuthorizationService creates a new AuthorizationService. ttl is the
// configured authorization lifetime before clamping to the exam duration.
func NewAuthorizationService(
	registry *CodeRegistry,
	auths AuthorizationIssuer,
	hasher *token.Hasher,
	ttl time.Duration,
	log zerolog.Logger,
) *AuthorizationService {
	return &AuthorizationService{
		registry: registry,
		auths:    auths,
		hasher:   hasher,
		ttl:      ttl,
		log:      log.With().Str("component", "authorization_service").Logger(),
		now:      time.Now,
	}
}

// Authorize validates the code and teacher gate for a student, consumes one
// use of the code and issues an authorization token. The plaintext token is
// only ever present in the returned result.
func (s *AuthorizationService) Authorize(ctx context.Context, studentID int64, req model.AuthorizeRequest) (*model.AuthorizeResult, error) {
	res, err := s.authorize(ctx, studentID, req)
	metrics.AuthorizeTotal.WithLabelValues(outcomeOf(err, "ok")).Inc()
	return res, err
}

func (s *AuthorizationService) authorize(ctx context.Context, studentID int64, req model.AuthorizeRequest) (*model.AuthorizeResult, error) {
	rc, err := s.registry.ResolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if err := checkTeacherPassword(&rc.Exam, req.TeacherPassword); err != nil {
		return nil, err
	}

	minted, err := s.hasher.Mint()
	if err != nil {
		return nil, fmt.Errorf("mint authorization token: %w", err)
	}

	now := s.now().UTC()
	issued, err := s.auths.Issue(ctx, repository.IssueParams{
		StudentID: studentID,
		Code:      rc.Code.Ref(),
		TokenHash: minted.Hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.lifetime(rc.Exam.Duration())),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCodeUnavailable):
			// Lost the race for the last use, or the code expired meanwhile.
			return nil, ErrInvalidCode
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrStorageConflict
		}
		return nil, fmt.Errorf("issue authorization: %w", err)
	}

	s.log.Info().
		Int64("student_id", studentID).
		Int64("authorization_id", issued.Authorization.ID).
		Str("kind", string(rc.Code.Kind)).
		Int64("code_id", rc.Code.ID).
		Int64("superseded", issued.Superseded).
		Msg("Authorization issued")

	return &model.AuthorizeResult{
		AuthorizationToken: minted.Plain,
		ExpiresAtUTC:       issued.Authorization.ExpiresAt,
		Exam:               rc.Exam.Info(),
	}, nil
}

// lifetime keeps the authorization window well inside the exam duration.
func (s *AuthorizationService) lifetime(examDuration time.Duration) time.Duration {
	ttl := s.ttl
	if half := examDuration / 2; ttl > half {
		ttl = half
	}
	if ttl < minAuthorizationTTL {
		ttl = minAuthorizationTTL
	}
	return ttl
}

// checkTeacherPassword enforces the exam's proctor gate. bcrypt compares in
// constant time.
func checkTeacherPassword(exam *model.Exam, password string) error {
	if !exam.RequiresTeacherPassword() {
		return nil
	}
	if password == "" {
		return ErrTeacherPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*exam.TeacherPasswordHash), []byte(password)); err != nil {
		return ErrTeacherPasswordInvalid
	}
	return nil
}

// outcomeOf labels a result for the outcome counters.
func outcomeOf(err error, success string) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrTeacherPasswordRequired):
		return "teacher_password_required"
	case errors.Is(err, ErrTeacherPasswordInvalid):
		return "teacher_password_invalid"
	case errors.Is(err, ErrInvalidOrExpiredAuthorization):
		return "invalid_authorization"
	case errors.Is(err, ErrAttemptAlreadyFinalized):
		return "attempt_finalized"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	default:
		return "error"
	}
}
