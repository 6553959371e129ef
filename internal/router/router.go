package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/handler"
	"github.com/stemsi/examgate/internal/metrics"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/response"
	"github.com/stemsi/examgate/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth           *handler.AuthHandler
	ExamApp        *handler.ExamAppHandler
	ExamAppSession *handler.ExamAppSessionHandler
	ExamCode       *handler.ExamCodeHandler
	WS             *handler.WSHandler
	System         *handler.SystemHandler
}

// Deps carries the non-handler collaborators the middlewares need.
type Deps struct {
	Auth        *service.AuthService
	Launches    middleware.LaunchValidator
	CodeLimiter *middleware.RateLimiter
	AuthLimiter *middleware.RateLimiter
	Log         zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID, middleware.HeaderLaunchToken}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(deps.Log))
	router.Use(metrics.MetricsMiddleware())

	// ─── System ────────────────────────────────────────────────────────
	router.GET("/health", handlers.System.Health)
	router.GET("/ready", handlers.System.Ready)
	router.GET("/metrics", metrics.PrometheusHandler())

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/auth")
	auth.Use(deps.AuthLimiter.Middleware(nil))
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", handlers.Auth.InstructorLogin)
		auth.POST("/student/logout", middleware.RequireStudentJWT(deps.Auth), handlers.Auth.StudentLogout)
	}

	// ─── 2. Exam App Group (Student JWT + Single Device) ───────────────
	examApp := router.Group("/api/exam-app")
	examApp.Use(
		middleware.RequireStudentJWT(deps.Auth),
		middleware.CheckSingleDeviceSession(deps.Auth),
		deps.CodeLimiter.Middleware(func(c *gin.Context) {
			response.AbortExamAppFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
		}),
	)
	{
		examApp.GET("/code/:code", handlers.ExamApp.GetExamInfo)
		examApp.POST("/authorize", handlers.ExamApp.Authorize)
		examApp.POST("/start", handlers.ExamApp.Start)
	}

	// ─── 3. Launch Session Group (Launch Token) ────────────────────────
	session := router.Group("/api/exam-app/session")
	session.Use(middleware.RequireLaunchSession(deps.Launches, deps.Log))
	{
		session.GET("", handlers.ExamAppSession.GetState)
		session.PUT("/answers", handlers.ExamAppSession.SaveAnswer)
		session.POST("/finish", handlers.ExamAppSession.Finish)
		session.DELETE("", handlers.ExamAppSession.SignOut)
	}

	// ─── 4. WebSocket Group (Launch Token) ─────────────────────────────
	ws := router.Group("/ws")
	ws.Use(middleware.RequireLaunchSession(deps.Launches, deps.Log))
	{
		ws.GET("/exam-app/session", handlers.WS.ExamAppSessionStream)
	}

	// ─── 5. Instructor Group (Instructor JWT) ──────────────────────────
	instructor := router.Group("/api/instructor")
	instructor.Use(middleware.RequireInstructorJWT(deps.Auth))
	{
		instructor.GET("/exams", handlers.ExamCode.ListExams)
		instructor.PUT("/exams/:kind/:id/teacher-password", handlers.ExamCode.SetTeacherPassword)
		instructor.POST("/exam-codes", handlers.ExamCode.CreateCode)
		instructor.GET("/exam-codes", handlers.ExamCode.ListCodes)
		instructor.POST("/exam-codes/:kind/:id/retire", handlers.ExamCode.RetireCode)
	}

	return router
}
