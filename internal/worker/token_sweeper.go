package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/metrics"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/service"
)

const sweepTimeout = time.Minute

// Sweeper deletes rows that have been dead for longer than retention.
type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// OverdueFinalizer closes attempts whose time ran out without a finish call
// and invalidates their launch sessions.
type OverdueFinalizer interface {
	FinalizeOverdue(ctx context.Context, kind model.ExamKind, now time.Time) ([]model.ClosedAttempt, error)
}

// TokenSweeper runs the periodic housekeeping of the token stores on a cron
// schedule. Lookups filter dead rows themselves, so a missed run only costs
// disk space.
type TokenSweeper struct {
	cron      *cron.Cron
	stores    map[string]Sweeper
	attempts  OverdueFinalizer
	notifier  service.SessionNotifier
	retention time.Duration
	log       zerolog.Logger
}

// NewTokenSweeper creates a TokenSweeper. stores maps a metrics label to a
// store; notifier tells open streams that their attempt was closed.
func NewTokenSweeper(stores map[string]Sweeper, attempts OverdueFinalizer, notifier service.SessionNotifier, retention time.Duration, log zerolog.Logger) *TokenSweeper {
	return &TokenSweeper{
		cron:      cron.New(),
		stores:    stores,
		attempts:  attempts,
		notifier:  notifier,
		retention: retention,
		log:       log.With().Str("component", "token_sweeper").Logger(),
	}
}

// Schedule registers the sweep on a standard 5-field cron expression.
func (s *TokenSweeper) Schedule(expr string) error {
	_, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	return err
}

// Every registers an extra housekeeping job, such as rate limiter cleanup.
func (s *TokenSweeper) Every(interval time.Duration, fn func()) {
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
}

// Start runs the scheduler in its own goroutine.
func (s *TokenSweeper) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Sweeper started")
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *TokenSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Sweeper stopped")
}

// RunOnce finalizes overdue attempts and deletes dead token rows.
func (s *TokenSweeper) RunOnce(ctx context.Context) {
	if s.attempts != nil {
		for _, kind := range []model.ExamKind{model.ExamKindRegular, model.ExamKindProgramming} {
			closed, err := s.attempts.FinalizeOverdue(ctx, kind, time.Now().UTC())
			if err != nil {
				s.log.Error().Err(err).Str("kind", string(kind)).Msg("Finalize overdue attempts failed")
				continue
			}
			if len(closed) > 0 {
				s.log.Info().Str("kind", string(kind)).Int("count", len(closed)).Msg("Finalized overdue attempts")
			}
			s.announce(ctx, closed)
		}
	}

	for name, store := range s.stores {
		n, err := store.Sweep(ctx, s.retention)
		if err != nil {
			s.log.Error().Err(err).Str("store", name).Msg("Sweep failed")
			continue
		}
		metrics.SweptTokens.WithLabelValues(name).Add(float64(n))
		if n > 0 {
			s.log.Info().Str("store", name).Int64("deleted", n).Msg("Swept dead tokens")
		}
	}
}

func (s *TokenSweeper) announce(ctx context.Context, closed []model.ClosedAttempt) {
	if s.notifier == nil {
		return
	}
	for _, c := range closed {
		if err := s.notifier.Publish(ctx, c.Attempt, service.SessionEvent{
			Type:       service.SessionEventFinalized,
			SessionIDs: c.Sessions,
		}); err != nil {
			s.log.Warn().Err(err).Int64("attempt_id", c.Attempt.ID()).Msg("Failed to publish finalized attempt")
		}
	}
}
