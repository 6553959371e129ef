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
)

// LaunchSessionStore runs the start exchange and backs launch token lookups.
type LaunchSessionStore interface {
	token.Backend[*model.ExamAppLaunchSession]
	Start(ctx context.Context, p repository.StartParams) (*repository.StartOutcome, error)
}

// LaunchManager exchanges authorization tokens for exam attempts and launch
// tokens, and validates launch tokens presented by the exam-taking app.
type LaunchManager struct {
	sessions LaunchSessionStore
	tokens   *token.Store[*model.ExamAppLaunchSession]
	hasher   *token.Hasher
	notifier SessionNotifier
	grace    time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewLaunchManager creates a new LaunchManager. grace is added to the
// attempt deadline when computing a launch session's expiry.
func NewLaunchManager(
	sessions LaunchSessionStore,
	hasher *token.Hasher,
	notifier SessionNotifier,
	grace time.Duration,
	log zerolog.Logger,
) *LaunchManager {
	return newLaunchManager(sessions, hasher, notifier, grace, log, time.Now)
}

func newLaunchManager(
	sessions LaunchSessionStore,
	hasher *token.Hasher,
	notifier SessionNotifier,
	grace time.Duration,
	log zerolog.Logger,
	now func() time.Time,
) *LaunchManager {
	return &LaunchManager{
		sessions: sessions,
		tokens:   token.NewStore[*model.ExamAppLaunchSession](hasher, sessions, now),
		hasher:   hasher,
		notifier: notifier,
		grace:    grace,
		log:      log.With().Str("component", "launch_manager").Logger(),
		now:      now,
	}
}

// Start consumes an authorization token and returns a launch token for the
// student's attempt. An open attempt for the same exam is resumed; every
// earlier launch session of that attempt stops validating.
func (m *LaunchManager) Start(ctx context.Context, studentID int64, req model.StartRequest) (*model.StartResult, error) {
	res, err := m.start(ctx, studentID, req)
	success := "started"
	if res != nil && res.Resumed {
		success = "resumed"
	}
	metrics.StartTotal.WithLabelValues(outcomeOf(err, success)).Inc()
	return res, err
}

func (m *LaunchManager) start(ctx context.Context, studentID int64, req model.StartRequest) (*model.StartResult, error) {
	if req.AuthorizationToken == "" {
		return nil, ErrInvalidOrExpiredAuthorization
	}

	minted, err := m.hasher.Mint()
	if err != nil {
		return nil, fmt.Errorf("mint launch token: %w", err)
	}

	out, err := m.sessions.Start(ctx, repository.StartParams{
		AuthorizationHash: m.hasher.Hash(req.AuthorizationToken),
		StudentID:         studentID,
		SessionHash:       minted.Hash,
		Now:               m.now().UTC(),
		Grace:             m.grace,
	})
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			return nil, ErrInvalidOrExpiredAuthorization
		case errors.Is(err, repository.ErrAttemptFinalized):
			return nil, ErrAttemptAlreadyFinalized
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrStorageConflict
		}
		return nil, fmt.Errorf("start attempt: %w", err)
	}

	attempt := out.Attempt.Ref()
	if len(out.Superseded) > 0 {
		metrics.SupersededSessions.Add(float64(len(out.Superseded)))
		// The database already rejects the old tokens; the event only hurries
		// connected clients along, so a failed publish is not fatal.
		if err := m.notifier.Publish(ctx, attempt, SessionEvent{
			Type:       SessionEventSuperseded,
			SessionIDs: out.Superseded,
		}); err != nil {
			m.log.Warn().Err(err).Int64("attempt_id", attempt.ID()).Msg("Failed to publish superseded sessions")
		}
	}

	m.log.Info().
		Int64("student_id", studentID).
		Str("kind", string(attempt.Kind())).
		Int64("attempt_id", attempt.ID()).
		Int64("launch_session_id", out.Session.ID).
		Bool("resumed", out.Resumed).
		Int("superseded", len(out.Superseded)).
		Msg("Launch session started")

	return &model.StartResult{
		AttemptID:    attempt.ID(),
		Kind:         attempt.Kind(),
		LaunchToken:  minted.Plain,
		ExpiresAtUTC: out.Session.ExpiresAt,
		Resumed:      out.Resumed,
	}, nil
}

// ValidateLaunch returns the live launch session for a plaintext launch token.
func (m *LaunchManager) ValidateLaunch(ctx context.Context, launchToken string) (*model.ExamAppLaunchSession, error) {
	s, err := m.tokens.Lookup(ctx, launchToken)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrInvalidLaunchSession
		}
		return nil, fmt.Errorf("lookup launch session: %w", err)
	}
	return s, nil
}

// Revoke invalidates a single launch session, e.g. when the app signs out.
func (m *LaunchManager) Revoke(ctx context.Context, s *model.ExamAppLaunchSession) error {
	if err := m.tokens.Invalidate(ctx, s); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrInvalidLaunchSession
		}
		return fmt.Errorf("revoke launch session: %w", err)
	}
	if err := m.notifier.Publish(ctx, s.Attempt, SessionEvent{
		Type:       SessionEventSuperseded,
		SessionIDs: []int64{s.ID},
	}); err != nil {
		m.log.Warn().Err(err).Int64("launch_session_id", s.ID).Msg("Failed to publish revoked session")
	}
	return nil
}
