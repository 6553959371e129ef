package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/response"
	"github.com/stemsi/examgate/internal/validator"
)

// AttemptSession serves an exam-taking app that holds a launch session.
type AttemptSession interface {
	State(ctx context.Context, sess *model.ExamAppLaunchSession) (*model.SessionState, error)
	SaveAnswer(ctx context.Context, sess *model.ExamAppLaunchSession, req model.SaveAnswerRequest) error
	Finish(ctx context.Context, sess *model.ExamAppLaunchSession) error
}

// LaunchRevoker ends a single launch session.
type LaunchRevoker interface {
	Revoke(ctx context.Context, sess *model.ExamAppLaunchSession) error
}

// ExamAppSessionHandler serves launch-token authenticated endpoints.
type ExamAppSessionHandler struct {
	sessions AttemptSession
	launches LaunchRevoker
	log      zerolog.Logger
}

// NewExamAppSessionHandler creates a new ExamAppSessionHandler.
func NewExamAppSessionHandler(sessions AttemptSession, launches LaunchRevoker, log zerolog.Logger) *ExamAppSessionHandler {
	return &ExamAppSessionHandler{
		sessions: sessions,
		launches: launches,
		log:      log.With().Str("component", "exam_app_session_handler").Logger(),
	}
}

// GetState godoc
// GET /api/exam-app/session
// Returns the attempt, remaining time and saved answers for the current launch session.
func (h *ExamAppSessionHandler) GetState(c *gin.Context) {
	sess := middleware.GetLaunchSession(c)
	if sess == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrInvalidLaunchSession)
		return
	}

	state, err := h.sessions.State(c.Request.Context(), sess)
	if err != nil {
		writeExamAppError(c, h.log, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{"state": state})
}

// SaveAnswer godoc
// PUT /api/exam-app/session/answers
// Saves one answer. Persistence to PostgreSQL happens asynchronously.
func (h *ExamAppSessionHandler) SaveAnswer(c *gin.Context) {
	sess := middleware.GetLaunchSession(c)
	if sess == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrInvalidLaunchSession)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.ExamAppFail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}

	if err := h.sessions.SaveAnswer(c.Request.Context(), sess, req); err != nil {
		writeExamAppError(c, h.log, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{"questionId": req.QuestionID})
}

// Finish godoc
// POST /api/exam-app/session/finish
// Finalizes the attempt and closes every launch session on it.
func (h *ExamAppSessionHandler) Finish(c *gin.Context) {
	sess := middleware.GetLaunchSession(c)
	if sess == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrInvalidLaunchSession)
		return
	}

	if err := h.sessions.Finish(c.Request.Context(), sess); err != nil {
		writeExamAppError(c, h.log, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{"attemptId": sess.Attempt.ID()})
}

// SignOut godoc
// DELETE /api/exam-app/session
// Invalidates the current launch session without finishing the attempt.
func (h *ExamAppSessionHandler) SignOut(c *gin.Context) {
	sess := middleware.GetLaunchSession(c)
	if sess == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrInvalidLaunchSession)
		return
	}

	if err := h.launches.Revoke(c.Request.Context(), sess); err != nil {
		writeExamAppError(c, h.log, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, nil)
}
