package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/response"
	"golang.org/x/crypto/bcrypt"
)

// generatedCodeAlphabet has 32 symbols without 0/O and 1/I/L lookalikes, so a
// random byte masked to 5 bits picks uniformly.
const generatedCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ-"

const (
	generatedCodeLength   = 8
	generatedCodeAttempts = 5
)

// ExamStore reads exam policy and updates the teacher gate.
type ExamStore interface {
	GetByID(ctx context.Context, kind model.ExamKind, id uuid.UUID) (*model.Exam, error)
	SetTeacherPassword(ctx context.Context, kind model.ExamKind, id uuid.UUID, authorID int64, hash *string) error
	ListByAuthorPaginated(ctx context.Context, kind model.ExamKind, authorID int64, limit, offset int) ([]model.Exam, int, error)
}

// ExamCodeStore persists exam codes.
type ExamCodeStore interface {
	Create(ctx context.Context, c *model.ExamCode) error
	ListByExam(ctx context.Context, kind model.ExamKind, examID uuid.UUID) ([]model.ExamCode, error)
	Retire(ctx context.Context, kind model.ExamKind, id, authorID int64, now time.Time) (*model.ExamCode, error)
}

// ExamCodeService lets instructors hand out and retire access codes.
type ExamCodeService struct {
	exams      ExamStore
	codes      ExamCodeStore
	bcryptCost int
	log        zerolog.Logger
	now        func() time.Time
}

// NewExamCodeService creates a new ExamCodeService.
func NewExamCodeService(exams ExamStore, codes ExamCodeStore, bcryptCost int, log zerolog.Logger) *ExamCodeService {
	return &ExamCodeService{
		exams:      exams,
		codes:      codes,
		bcryptCost: bcryptCost,
		log:        log.With().Str("component", "exam_code_service").Logger(),
		now:        time.Now,
	}
}

// authoredExam loads an exam and checks the instructor wrote it.
func (s *ExamCodeService) authoredExam(ctx context.Context, instructorID int64, kind model.ExamKind, examID uuid.UUID) (*model.Exam, error) {
	if _, err := model.ParseExamKind(string(kind)); err != nil {
		return nil, ErrInvalidExamKind
	}
	exam, err := s.exams.GetByID(ctx, kind, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.AuthorID != instructorID {
		return nil, ErrNotExamAuthor
	}
	return exam, nil
}

// ListExams returns one page of the instructor's exams of a kind.
func (s *ExamCodeService) ListExams(ctx context.Context, instructorID int64, kind model.ExamKind, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if _, err := model.ParseExamKind(string(kind)); err != nil {
		return nil, nil, ErrInvalidExamKind
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	exams, total, err := s.exams.ListByAuthorPaginated(ctx, kind, instructorID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exams: %w", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	return exams, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Create issues a new code for an exam the instructor authored. A random
// code is generated when req.Code is empty.
func (s *ExamCodeService) Create(ctx context.Context, instructorID int64, req model.CreateExamCodeRequest) (*model.ExamCode, error) {
	if _, err := s.authoredExam(ctx, instructorID, req.Kind, req.ExamID); err != nil {
		return nil, err
	}
	if !req.ExpiresAtUTC.After(s.now()) {
		return nil, ErrExpiryInPast
	}

	c := &model.ExamCode{
		Kind:      req.Kind,
		Code:      req.Code,
		ExamID:    req.ExamID,
		CreatedBy: instructorID,
		ExpiresAt: req.ExpiresAtUTC.UTC(),
		MaxUses:   req.MaxUses,
	}

	if c.Code != "" {
		if err := s.codes.Create(ctx, c); err != nil {
			return nil, mapCodeCreateErr(err)
		}
	} else {
		var err error
		for i := 0; i < generatedCodeAttempts; i++ {
			if c.Code, err = GenerateCode(); err != nil {
				return nil, err
			}
			if err = s.codes.Create(ctx, c); !errors.Is(err, repository.ErrDuplicateCode) {
				break
			}
		}
		if errors.Is(err, repository.ErrDuplicateCode) {
			return nil, ErrCodeGeneration
		}
		if err != nil {
			return nil, mapCodeCreateErr(err)
		}
	}

	s.log.Info().
		Int64("instructor_id", instructorID).
		Str("kind", string(c.Kind)).
		Int64("code_id", c.ID).
		Str("exam_id", c.ExamID.String()).
		Msg("Exam code created")
	return c, nil
}

func mapCodeCreateErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateCode):
		return ErrCodeTaken
	case errors.Is(err, repository.ErrNotFound):
		return ErrExamNotFound
	}
	return fmt.Errorf("create exam code: %w", err)
}

// List returns all codes of an exam the instructor authored.
func (s *ExamCodeService) List(ctx context.Context, instructorID int64, kind model.ExamKind, examID uuid.UUID) ([]model.ExamCode, error) {
	if _, err := s.authoredExam(ctx, instructorID, kind, examID); err != nil {
		return nil, err
	}
	codes, err := s.codes.ListByExam(ctx, kind, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam codes: %w", err)
	}
	return codes, nil
}

// Retire stops a code from authorizing anyone new. The row is kept because
// attempts may reference it.
func (s *ExamCodeService) Retire(ctx context.Context, instructorID int64, kind model.ExamKind, codeID int64) (*model.ExamCode, error) {
	if _, err := model.ParseExamKind(string(kind)); err != nil {
		return nil, ErrInvalidExamKind
	}
	c, err := s.codes.Retire(ctx, kind, codeID, instructorID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("retire exam code: %w", err)
	}
	s.log.Info().Int64("instructor_id", instructorID).Int64("code_id", codeID).Msg("Exam code retired")
	return c, nil
}

// SetTeacherPassword sets or, with an empty password, clears the exam's proctor gate.
func (s *ExamCodeService) SetTeacherPassword(ctx context.Context, instructorID int64, kind model.ExamKind, examID uuid.UUID, password string) error {
	if _, err := s.authoredExam(ctx, instructorID, kind, examID); err != nil {
		return err
	}

	var hash *string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
		if err != nil {
			return fmt.Errorf("hash teacher password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}

	if err := s.exams.SetTeacherPassword(ctx, kind, examID, instructorID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrExamNotFound
		}
		return fmt.Errorf("set teacher password: %w", err)
	}
	return nil
}

// GenerateCode returns a random human-friendly exam code.
func GenerateCode() (string, error) {
	buf := make([]byte, generatedCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate exam code: %w", err)
	}
	for i, b := range buf {
		buf[i] = generatedCodeAlphabet[b&31]
	}
	return string(buf), nil
}
