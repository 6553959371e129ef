package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examgate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// AuthorizeTotal counts Authorize outcomes by error code ("ok" on success).
	AuthorizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgate_authorize_total",
			Help: "Exam-app authorization requests by outcome",
		},
		[]string{"outcome"},
	)

	// StartTotal counts Start outcomes by error code, "started" or "resumed".
	StartTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgate_start_total",
			Help: "Exam-app start requests by outcome",
		},
		[]string{"outcome"},
	)

	SupersededSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "examgate_launch_sessions_superseded_total",
			Help: "Launch sessions invalidated by a newer start",
		},
	)

	SweptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examgate_tokens_swept_total",
			Help: "Dead token rows deleted by the sweeper",
		},
		[]string{"store"},
	)
)

// Init registers every collector with the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AuthorizeTotal)
	prometheus.MustRegister(StartTotal)
	prometheus.MustRegister(SupersededSessions)
	prometheus.MustRegister(SweptTokens)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
