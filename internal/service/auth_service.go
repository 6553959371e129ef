package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoActiveSession    = errors.New("no active session")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// TokenType distinguishes student vs instructor tokens.
type TokenType string

const (
	TokenTypeStudent    TokenType = "student"
	TokenTypeInstructor TokenType = "instructor"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int64     `json:"user_id"`
}

// StudentFinder looks up students for login.
type StudentFinder interface {
	GetByNISN(ctx context.Context, nisn string) (*model.Student, error)
}

// InstructorFinder looks up instructors for login.
type InstructorFinder interface {
	GetByEmail(ctx context.Context, email string) (*model.Instructor, error)
}

// AuthService handles authentication, JWT, and session management.
type AuthService struct {
	cfg         *config.Config
	rdb         *redis.Client
	students    StudentFinder
	instructors InstructorFinder
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, students StudentFinder, instructors InstructorFinder) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, students: students, instructors: instructors}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// LoginStudent checks a student's credentials and returns a fresh JWT.
func (s *AuthService) LoginStudent(ctx context.Context, req model.StudentLoginRequest) (string, *model.Student, error) {
	student, err := s.students.GetByNISN(ctx, req.NISN)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("get student: %w", err)
	}
	if err := s.CheckPassword(student.PasswordHash, req.Password); err != nil {
		return "", nil, err
	}
	tok, err := s.GenerateStudentToken(ctx, student.ID)
	if err != nil {
		return "", nil, err
	}
	return tok, student, nil
}

// LoginInstructor checks an instructor's credentials and returns a JWT.
func (s *AuthService) LoginInstructor(ctx context.Context, req model.InstructorLoginRequest) (string, *model.Instructor, error) {
	instructor, err := s.instructors.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("get instructor: %w", err)
	}
	if err := s.CheckPassword(instructor.PasswordHash, req.Password); err != nil {
		return "", nil, err
	}
	tok, err := s.GenerateInstructorToken(instructor.ID)
	if err != nil {
		return "", nil, err
	}
	return tok, instructor, nil
}

// GenerateStudentToken creates a JWT for a student and registers its JTI in
// Redis. A newer login replaces the stored JTI, so only the latest device
// stays signed in.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID int64) (string, error) {
	jti := uuid.New().String()
	signed, err := s.sign(TokenTypeStudent, studentID, jti)
	if err != nil {
		return "", err
	}

	sessionKey := config.CacheKey.StudentSessionKey(studentID)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

// GenerateInstructorToken creates a JWT for an instructor.
func (s *AuthService) GenerateInstructorToken(instructorID int64) (string, error) {
	return s.sign(TokenTypeInstructor, instructorID, uuid.New().String())
}

func (s *AuthService) sign(tokenType TokenType, userID int64, jti string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: tokenType,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active session in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int64, jti string) error {
	sessionKey := config.CacheKey.StudentSessionKey(studentID)
	stored, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// LogoutStudent removes a student's session from Redis.
func (s *AuthService) LogoutStudent(ctx context.Context, studentID int64) error {
	sessionKey := config.CacheKey.StudentSessionKey(studentID)
	return s.rdb.Del(ctx, sessionKey).Err()
}
