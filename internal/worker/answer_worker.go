package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/service"
)

const (
	answerPollTimeout = time.Second
	answerRetryDelay  = 5 * time.Second
)

// AnswerWriter persists one answer unless a newer one is already stored.
type AnswerWriter interface {
	UpsertAnswer(ctx context.Context, ref model.AttemptRef, answer model.AttemptAnswer) error
}

// AnswerWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AnswerWorker struct {
	answers AnswerWriter
	rdb     *redis.Client
	queue   string
	log     zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(answers AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		answers: answers,
		rdb:     rdb,
		queue:   config.WorkerKey.PersistAnswersQueue,
		log:     log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the worker loop and blocks until ctx is cancelled, draining
// the queue before it returns. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or the poll timeout passes.
	result, err := w.rdb.BLPop(ctx, answerPollTimeout, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying in 5s")
		w.rdb.RPush(context.Background(), w.queue, result[1])
		select {
		case <-time.After(answerRetryDelay):
		case <-ctx.Done():
		}
	}
}

// handle persists one queue item. Malformed items are logged and dropped.
func (w *AnswerWorker) handle(ctx context.Context, raw string) error {
	var job service.AnswerJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return nil
	}
	if _, err := model.ParseExamKind(string(job.Kind)); err != nil || job.QuestionID == "" {
		w.log.Error().Str("kind", string(job.Kind)).Int64("attempt_id", job.AttemptID).Msg("Dropping malformed answer job")
		return nil
	}
	return w.answers.UpsertAnswer(ctx, job.Attempt(), job.AttemptAnswer())
}

// drain processes all remaining items in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}
		if err := w.handle(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
