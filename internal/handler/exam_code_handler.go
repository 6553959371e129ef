package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/response"
	"github.com/stemsi/examgate/internal/service"
	"github.com/stemsi/examgate/internal/validator"
)

// ExamCodeManager is the instructor side of exam codes.
type ExamCodeManager interface {
	ListExams(ctx context.Context, instructorID int64, kind model.ExamKind, page, perPage int) ([]model.Exam, *response.Pagination, error)
	Create(ctx context.Context, instructorID int64, req model.CreateExamCodeRequest) (*model.ExamCode, error)
	List(ctx context.Context, instructorID int64, kind model.ExamKind, examID uuid.UUID) ([]model.ExamCode, error)
	Retire(ctx context.Context, instructorID int64, kind model.ExamKind, codeID int64) (*model.ExamCode, error)
	SetTeacherPassword(ctx context.Context, instructorID int64, kind model.ExamKind, examID uuid.UUID, password string) error
}

// ExamCodeHandler handles instructor exam and code management.
type ExamCodeHandler struct {
	codes ExamCodeManager
	log   zerolog.Logger
}

// NewExamCodeHandler creates a new ExamCodeHandler.
func NewExamCodeHandler(codes ExamCodeManager, log zerolog.Logger) *ExamCodeHandler {
	return &ExamCodeHandler{
		codes: codes,
		log:   log.With().Str("component", "exam_code_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/instructor/exams?kind=EXAM&page=1&per_page=10
// Lists the instructor's exams of one kind.
func (h *ExamCodeHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))
	kind := model.ExamKind(c.DefaultQuery("kind", string(model.ExamKindRegular)))

	exams, pagination, err := h.codes.ListExams(c.Request.Context(), claims.UserID, kind, page, perPage)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// CreateCode godoc
// POST /api/instructor/exam-codes
// Creates an access code for an exam the instructor authored.
func (h *ExamCodeHandler) CreateCode(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateExamCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	code, err := h.codes.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam_code": code})
}

// ListCodes godoc
// GET /api/instructor/exam-codes?kind=EXAM&examId=<uuid>
// Lists every code of an exam with its use counters.
func (h *ExamCodeHandler) ListCodes(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Query("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	kind := model.ExamKind(c.DefaultQuery("kind", string(model.ExamKindRegular)))

	codes, err := h.codes.List(c.Request.Context(), claims.UserID, kind, examID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam_codes": codes})
}

// RetireCode godoc
// POST /api/instructor/exam-codes/:kind/:id/retire
// Expires a code immediately. Issued authorizations keep their own expiry.
func (h *ExamCodeHandler) RetireCode(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	code, err := h.codes.Retire(c.Request.Context(), claims.UserID, model.ExamKind(c.Param("kind")), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam_code": code})
}

// SetTeacherPassword godoc
// PUT /api/instructor/exams/:kind/:id/teacher-password
// Sets or clears the proctor password students must present to authorize.
func (h *ExamCodeHandler) SetTeacherPassword(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SetTeacherPasswordRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.codes.SetTeacherPassword(c.Request.Context(), claims.UserID, model.ExamKind(c.Param("kind")), examID, req.Password); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"requires_teacher_password": req.Password != ""})
}

func (h *ExamCodeHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidExamKind):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"kind": "kind must be EXAM or PROGRAMMING"})
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, service.ErrCodeNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotExamAuthor):
		response.Fail(c, http.StatusForbidden, response.ErrNotExamAuthor)
	case errors.Is(err, service.ErrCodeTaken), errors.Is(err, service.ErrCodeGeneration):
		response.Fail(c, http.StatusConflict, response.ErrCodeTaken)
	case errors.Is(err, service.ErrExpiryInPast):
		response.Fail(c, http.StatusBadRequest, response.ErrExpiryInPast)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Exam code request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
