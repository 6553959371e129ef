package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/response"
	"github.com/stemsi/examgate/internal/service"
	"github.com/stemsi/examgate/internal/validator"
)

// ExamInfoResolver resolves a code to the exam it unlocks.
type ExamInfoResolver interface {
	GetExamInfo(ctx context.Context, code string) (*model.ExamInfo, error)
}

// Authorizer issues authorization tokens.
type Authorizer interface {
	Authorize(ctx context.Context, studentID int64, req model.AuthorizeRequest) (*model.AuthorizeResult, error)
}

// Starter exchanges authorization tokens for launch tokens.
type Starter interface {
	Start(ctx context.Context, studentID int64, req model.StartRequest) (*model.StartResult, error)
}

// ExamAppHandler serves the student-authenticated steps of entering an exam:
// code lookup, authorize and start. Responses use the flat success/error
// shape the exam-taking app parses.
type ExamAppHandler struct {
	codes   ExamInfoResolver
	issuer  Authorizer
	starter Starter
	log     zerolog.Logger
}

// NewExamAppHandler creates a new ExamAppHandler.
func NewExamAppHandler(codes ExamInfoResolver, issuer Authorizer, starter Starter, log zerolog.Logger) *ExamAppHandler {
	return &ExamAppHandler{
		codes:   codes,
		issuer:  issuer,
		starter: starter,
		log:     log.With().Str("component", "exam_app_handler").Logger(),
	}
}

// GetExamInfo godoc
// GET /api/exam-app/code/:code
// Returns the exam a code unlocks. Unknown, expired and exhausted codes all give 404.
func (h *ExamAppHandler) GetExamInfo(c *gin.Context) {
	code := c.Param("code")
	if !validator.IsExamCode(code) {
		response.ExamAppFail(c, http.StatusNotFound, response.ErrInvalidCode)
		return
	}

	info, err := h.codes.GetExamInfo(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			response.ExamAppFail(c, http.StatusNotFound, response.ErrInvalidCode)
			return
		}
		h.fail(c, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{"exam": info})
}

// Authorize godoc
// POST /api/exam-app/authorize
// Exchanges a code (and teacher password when gated) for a short-lived authorization token.
func (h *ExamAppHandler) Authorize(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AuthorizeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		if _, badCode := fields["code"]; badCode {
			response.ExamAppFail(c, http.StatusBadRequest, response.ErrInvalidCode)
			return
		}
		response.ExamAppFail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}

	res, err := h.issuer.Authorize(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{
		"authorizationToken": res.AuthorizationToken,
		"expiresAtUtc":       res.ExpiresAtUTC,
		"exam":               res.Exam,
	})
}

// Start godoc
// POST /api/exam-app/start
// Consumes an authorization token and returns the attempt id and a launch token.
func (h *ExamAppHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.ExamAppFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.ExamAppFail(c, http.StatusBadRequest, response.ErrInvalidOrExpiredAuthorization)
		return
	}

	res, err := h.starter.Start(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.ExamAppOK(c, http.StatusOK, gin.H{
		"attemptId":    res.AttemptID,
		"kind":         res.Kind,
		"launchToken":  res.LaunchToken,
		"expiresAtUtc": res.ExpiresAtUTC,
		"resumed":      res.Resumed,
	})
}

func (h *ExamAppHandler) fail(c *gin.Context, err error) {
	writeExamAppError(c, h.log, err)
}

// examAppErrors maps service failures to their status and wire code.
var examAppErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrInvalidCode, http.StatusBadRequest, response.ErrInvalidCode},
	{service.ErrTeacherPasswordRequired, http.StatusBadRequest, response.ErrTeacherPasswordRequired},
	{service.ErrTeacherPasswordInvalid, http.StatusBadRequest, response.ErrTeacherPasswordInvalid},
	{service.ErrInvalidOrExpiredAuthorization, http.StatusBadRequest, response.ErrInvalidOrExpiredAuthorization},
	{service.ErrAttemptAlreadyFinalized, http.StatusBadRequest, response.ErrAttemptAlreadyFinalized},
	{service.ErrStorageConflict, http.StatusBadRequest, response.ErrStorageConflict},
	{service.ErrInvalidLaunchSession, http.StatusUnauthorized, response.ErrInvalidLaunchSession},
}

// writeExamAppError writes the flat failure body for err. Anything outside
// the exam access taxonomy is logged and reported as INTERNAL_ERROR.
func writeExamAppError(c *gin.Context, log zerolog.Logger, err error) {
	for _, e := range examAppErrors {
		if errors.Is(err, e.err) {
			response.ExamAppFail(c, e.status, e.code)
			return
		}
	}
	reqID, _ := c.Get(response.ContextKeyRequestID)
	log.Error().Err(err).Interface("request_id", reqID).Str("path", c.FullPath()).Msg("Exam app request failed")
	response.ExamAppFail(c, http.StatusInternalServerError, response.ErrInternal)
}
