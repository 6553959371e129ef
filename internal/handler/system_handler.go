package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/response"
)

const readinessTimeout = 2 * time.Second

// SystemHandler reports liveness and dependency readiness.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type readiness struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
	Goroutines   int    `json:"goroutines"`
	Postgres     string `json:"postgres"`
	Redis        string `json:"redis"`
	QueueAnswers int64  `json:"queue_answers"`
	DBConns      int32  `json:"db_conns"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// GET /ready
// Pings PostgreSQL and Redis and reports the answer queue backlog.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	r := readiness{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Postgres:   "ok",
		Redis:      "ok",
		DBConns:    h.pool.Stat().TotalConns(),
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL not ready")
		r.Postgres, r.Status = "down", "degraded"
	}

	queueCmd := h.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	if err := queueCmd.Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis not ready")
		r.Redis, r.Status = "down", "degraded"
	} else {
		r.QueueAnswers = queueCmd.Val()
	}

	status := http.StatusOK
	if r.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, r)
}
