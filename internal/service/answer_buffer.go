package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/model"
)

// AnswerJob is one queued answer write, consumed by worker.AnswerWorker.
type AnswerJob struct {
	Kind       model.ExamKind `json:"kind"`
	AttemptID  int64          `json:"attempt_id"`
	QuestionID string         `json:"q_id"`
	Answer     string         `json:"answer"`
	SavedAt    time.Time      `json:"saved_at"`
}

// Attempt returns the attempt the job writes to.
func (j AnswerJob) Attempt() model.AttemptRef {
	return model.NewAttemptRef(j.Kind, j.AttemptID)
}

// AttemptAnswer returns the answer the job writes.
func (j AnswerJob) AttemptAnswer() model.AttemptAnswer {
	return model.AttemptAnswer{QuestionID: j.QuestionID, Answer: j.Answer, SavedAt: j.SavedAt}
}

// AnswerBuffer holds answers that were accepted but may not be in
// PostgreSQL yet.
type AnswerBuffer interface {
	Save(ctx context.Context, attempt model.AttemptRef, answer model.AttemptAnswer, ttl time.Duration) error
	Pending(ctx context.Context, attempt model.AttemptRef) (map[string]model.AttemptAnswer, error)
	Clear(ctx context.Context, attempt model.AttemptRef) error
}

// RedisAnswerBuffer keeps the latest answer per question in a hash and
// queues every write on config.WorkerKey.PersistAnswersQueue.
type RedisAnswerBuffer struct {
	rdb *redis.Client
}

// NewRedisAnswerBuffer creates a new RedisAnswerBuffer.
func NewRedisAnswerBuffer(rdb *redis.Client) *RedisAnswerBuffer {
	return &RedisAnswerBuffer{rdb: rdb}
}

func answersKey(attempt model.AttemptRef) string {
	return config.CacheKey.AttemptAnswersKey(string(attempt.Kind()), attempt.ID())
}

// bufferedAnswer is the hash field value.
type bufferedAnswer struct {
	Answer  string    `json:"answer"`
	SavedAt time.Time `json:"saved_at"`
}

// Save stores the answer and queues it for persistence in one round trip.
func (b *RedisAnswerBuffer) Save(ctx context.Context, attempt model.AttemptRef, answer model.AttemptAnswer, ttl time.Duration) error {
	payload, err := json.Marshal(AnswerJob{
		Kind:       attempt.Kind(),
		AttemptID:  attempt.ID(),
		QuestionID: answer.QuestionID,
		Answer:     answer.Answer,
		SavedAt:    answer.SavedAt,
	})
	if err != nil {
		return err
	}
	field, err := json.Marshal(bufferedAnswer{Answer: answer.Answer, SavedAt: answer.SavedAt})
	if err != nil {
		return err
	}

	key := answersKey(attempt)
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, answer.QuestionID, field)
		pipe.Expire(ctx, key, ttl)
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	return nil
}

// Pending returns every buffered answer of the attempt.
func (b *RedisAnswerBuffer) Pending(ctx context.Context, attempt model.AttemptRef) (map[string]model.AttemptAnswer, error) {
	raw, err := b.rdb.HGetAll(ctx, answersKey(attempt)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.AttemptAnswer, len(raw))
	for qid, v := range raw {
		out[qid] = decodeBufferedAnswer(qid, v)
	}
	return out, nil
}

// decodeBufferedAnswer reads a hash value. Values written before answers
// carried a timestamp hold the bare answer.
func decodeBufferedAnswer(qid, v string) model.AttemptAnswer {
	var ba bufferedAnswer
	if err := json.Unmarshal([]byte(v), &ba); err != nil {
		return model.AttemptAnswer{QuestionID: qid, Answer: v}
	}
	return model.AttemptAnswer{QuestionID: qid, Answer: ba.Answer, SavedAt: ba.SavedAt}
}

// Clear drops the attempt's buffered answers.
func (b *RedisAnswerBuffer) Clear(ctx context.Context, attempt model.AttemptRef) error {
	return b.rdb.Del(ctx, answersKey(attempt)).Err()
}
