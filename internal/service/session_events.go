package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/model"
)

// SessionEventType names a change to the launch sessions of an attempt.
type SessionEventType string

const (
	SessionEventSuperseded SessionEventType = "session_superseded"
	SessionEventFinalized  SessionEventType = "attempt_finalized"
)

// SessionEvent is published on the attempt's channel. SessionIDs lists the
// launch sessions that stopped being valid.
type SessionEvent struct {
	Type       SessionEventType `json:"type"`
	SessionIDs []int64          `json:"sessionIds"`
}

// Affects reports whether the event closes the given session.
func (e SessionEvent) Affects(sessionID int64) bool {
	for _, id := range e.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// SessionNotifier announces launch session changes to live clients.
type SessionNotifier interface {
	Publish(ctx context.Context, attempt model.AttemptRef, ev SessionEvent) error
}

// RedisSessionEvents fans session events out over Redis Pub/Sub so every
// server instance can close superseded WebSocket connections.
type RedisSessionEvents struct {
	rdb *redis.Client
}

// NewRedisSessionEvents creates a new RedisSessionEvents.
func NewRedisSessionEvents(rdb *redis.Client) *RedisSessionEvents {
	return &RedisSessionEvents{rdb: rdb}
}

func attemptChannel(attempt model.AttemptRef) string {
	return config.CacheKey.AttemptSessionChannel(string(attempt.Kind()), attempt.ID())
}

// Publish sends ev to the attempt's channel.
func (e *RedisSessionEvents) Publish(ctx context.Context, attempt model.AttemptRef, ev SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := e.rdb.Publish(ctx, attemptChannel(attempt), payload).Err(); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

// SessionSubscription delivers the session events of one attempt until closed.
type SessionSubscription interface {
	Events() <-chan SessionEvent
	Close() error
}

// Subscribe listens on the attempt's channel and returns once Redis has
// confirmed the subscription, so no event published afterwards is missed.
// The caller must Close the result.
func (e *RedisSessionEvents) Subscribe(ctx context.Context, attempt model.AttemptRef) (SessionSubscription, error) {
	pubsub := e.rdb.Subscribe(ctx, attemptChannel(attempt))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe session events: %w", err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan SessionEvent),
		done:   make(chan struct{}),
	}
	go sub.forward(pubsub.Channel())
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan SessionEvent
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan SessionEvent { return s.events }

// forward decodes messages until the Pub/Sub channel closes or Close is
// called. Malformed payloads are dropped.
func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			ev, err := ParseSessionEvent(m.Payload)
			if err != nil {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// ParseSessionEvent decodes a Pub/Sub payload.
func ParseSessionEvent(payload string) (SessionEvent, error) {
	var ev SessionEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
