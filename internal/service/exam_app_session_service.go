package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/token"
)

// AttemptStore reads and closes attempts. Finalize writes flush in the same
// transaction that closes the attempt.
type AttemptStore interface {
	GetWithExam(ctx context.Context, ref model.AttemptRef) (*model.ExamAttempt, *model.Exam, error)
	ListAnswers(ctx context.Context, ref model.AttemptRef) ([]model.AttemptAnswer, error)
	Finalize(ctx context.Context, ref model.AttemptRef, at time.Time, flush []model.AttemptAnswer) ([]int64, error)
}

// LiveSessionFinder looks up launch sessions that are neither invalidated
// nor expired.
type LiveSessionFinder interface {
	FindLiveByHash(ctx context.Context, hash string, now time.Time) (*model.ExamAppLaunchSession, error)
}

// ExamAppSessionService serves the exam-taking app once it holds a launch
// session: state reload, answer saving and finishing the attempt.
type ExamAppSessionService struct {
	attempts AttemptStore
	launches LiveSessionFinder
	buffer   AnswerBuffer
	notifier SessionNotifier
	grace    time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewExamAppSessionService creates a new ExamAppSessionService.
func NewExamAppSessionService(
	attempts AttemptStore,
	launches LiveSessionFinder,
	buffer AnswerBuffer,
	notifier SessionNotifier,
	grace time.Duration,
	log zerolog.Logger,
) *ExamAppSessionService {
	return &ExamAppSessionService{
		attempts: attempts,
		launches: launches,
		buffer:   buffer,
		notifier: notifier,
		grace:    grace,
		log:      log.With().Str("component", "exam_app_session_service").Logger(),
		now:      time.Now,
	}
}

// ownAttempt loads the session's attempt and checks it belongs to the student.
func (s *ExamAppSessionService) ownAttempt(ctx context.Context, sess *model.ExamAppLaunchSession) (*model.ExamAttempt, *model.Exam, error) {
	attempt, exam, err := s.attempts.GetWithExam(ctx, sess.Attempt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidLaunchSession
		}
		return nil, nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.StudentID != sess.StudentID {
		return nil, nil, ErrInvalidLaunchSession
	}
	return attempt, exam, nil
}

// requireLive rejects a session that was superseded, signed out or expired
// after the caller validated it. The WebSocket stream holds one validated
// session for its whole lifetime.
func (s *ExamAppSessionService) requireLive(ctx context.Context, sess *model.ExamAppLaunchSession) error {
	if _, err := s.launches.FindLiveByHash(ctx, sess.TokenHash, s.now()); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrInvalidLaunchSession
		}
		return fmt.Errorf("check launch session: %w", err)
	}
	return nil
}

// openAttempt loads the session's attempt and rejects it once closed or out
// of time, or once the session is no longer live.
func (s *ExamAppSessionService) openAttempt(ctx context.Context, sess *model.ExamAppLaunchSession) (*model.ExamAttempt, *model.Exam, error) {
	attempt, exam, err := s.ownAttempt(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	if attempt.Finalized() || !s.now().Before(attempt.Deadline(exam.Duration())) {
		return nil, nil, ErrAttemptAlreadyFinalized
	}
	if err := s.requireLive(ctx, sess); err != nil {
		return nil, nil, err
	}
	return attempt, exam, nil
}

// State returns everything the app needs to redraw an attempt after a restart.
func (s *ExamAppSessionService) State(ctx context.Context, sess *model.ExamAppLaunchSession) (*model.SessionState, error) {
	attempt, exam, err := s.openAttempt(ctx, sess)
	if err != nil {
		return nil, err
	}

	saved, err := s.attempts.ListAnswers(ctx, sess.Attempt)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	pending, err := s.buffer.Pending(ctx, sess.Attempt)
	if err != nil {
		return nil, fmt.Errorf("pending answers: %w", err)
	}

	merged := make(map[string]model.AttemptAnswer, len(saved)+len(pending))
	for _, a := range saved {
		merged[a.QuestionID] = a
	}
	for qid, a := range pending {
		if cur, ok := merged[qid]; !ok || a.NewerThan(cur) {
			merged[qid] = a
		}
	}
	answers := make(map[string]string, len(merged))
	for qid, a := range merged {
		answers[qid] = a.Answer
	}

	remaining := attempt.Deadline(exam.Duration()).Sub(s.now())
	return &model.SessionState{
		AttemptID:        attempt.ID,
		Exam:             exam.Info(),
		StartTimeUTC:     attempt.StartTime.UTC(),
		RemainingSeconds: remaining.Seconds(),
		SessionExpiresAt: sess.ExpiresAt.UTC(),
		Answers:          answers,
	}, nil
}

// SaveAnswer accepts one answer while the attempt still has time left.
func (s *ExamAppSessionService) SaveAnswer(ctx context.Context, sess *model.ExamAppLaunchSession, req model.SaveAnswerRequest) error {
	attempt, exam, err := s.openAttempt(ctx, sess)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	ttl := attempt.Deadline(exam.Duration()).Add(s.grace).Sub(now)
	answer := model.AttemptAnswer{QuestionID: req.QuestionID, Answer: req.Answer, SavedAt: now}
	if err := s.buffer.Save(ctx, sess.Attempt, answer, ttl); err != nil {
		return err
	}
	return nil
}

// Finish flushes buffered answers and finalizes the attempt in one
// transaction, then closes every launch session on it. Queued answer writes
// that land afterwards cannot replace a newer flushed answer. Scoring happens
// elsewhere.
func (s *ExamAppSessionService) Finish(ctx context.Context, sess *model.ExamAppLaunchSession) error {
	attempt, exam, err := s.ownAttempt(ctx, sess)
	if err != nil {
		return err
	}
	if attempt.Finalized() {
		return ErrAttemptAlreadyFinalized
	}
	if err := s.requireLive(ctx, sess); err != nil {
		return err
	}

	pending, err := s.buffer.Pending(ctx, sess.Attempt)
	if err != nil {
		return fmt.Errorf("pending answers: %w", err)
	}
	flush := make([]model.AttemptAnswer, 0, len(pending))
	for _, a := range pending {
		flush = append(flush, a)
	}

	// An attempt finished late is stamped at its deadline.
	at := s.now().UTC()
	if deadline := attempt.Deadline(exam.Duration()); at.After(deadline) {
		at = deadline
	}

	closed, err := s.attempts.Finalize(ctx, sess.Attempt, at, flush)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptFinalized) {
			return ErrAttemptAlreadyFinalized
		}
		return fmt.Errorf("finalize attempt: %w", err)
	}

	if err := s.buffer.Clear(ctx, sess.Attempt); err != nil {
		s.log.Warn().Err(err).Int64("attempt_id", attempt.ID).Msg("Failed to clear answer buffer")
	}
	if err := s.notifier.Publish(ctx, sess.Attempt, SessionEvent{
		Type:       SessionEventFinalized,
		SessionIDs: closed,
	}); err != nil {
		s.log.Warn().Err(err).Int64("attempt_id", attempt.ID).Msg("Failed to publish finalized attempt")
	}

	s.log.Info().
		Int64("student_id", sess.StudentID).
		Str("kind", string(attempt.Kind)).
		Int64("attempt_id", attempt.ID).
		Int("answers_flushed", len(pending)).
		Msg("Attempt finalized")
	return nil
}
