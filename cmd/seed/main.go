package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/database"
	"github.com/stemsi/examgate/internal/logger"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/service"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Jamal Mirdad", "Kiki Fatmala", "Lukman Hakim",
	"Maya Septiana", "Nanda Pratama", "Oki Setiana", "Putri Dian", "Qori Maharani",
}

func main() {
	studentCount := flag.Int("students", 20, "Number of demo students to create")
	instructorEmail := flag.String("instructor", "", "Email of the instructor who owns the demo exam (skip exam when empty)")
	code := flag.String("code", "MATH101-X", "Access code for the demo exam")
	maxUses := flag.Int("max-uses", 0, "Maximum uses of the demo code (0 = unlimited)")
	teacherPassword := flag.String("teacher-password", "", "Optional proctor password for the demo exam")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	instructorRepo := repository.NewInstructorRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	codeRepo := repository.NewExamCodeRepository(pool)

	authService := service.NewAuthService(cfg, nil, studentRepo, instructorRepo)
	codeService := service.NewExamCodeService(examRepo, codeRepo, cfg.BcryptCost, log)

	// ─── Students ──────────────────────────────────────────────────────
	fmt.Printf("=== Seeding %d Students ===\n", *studentCount)

	password, err := authService.HashPassword("stemsijaya")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	successCount := 0
	for i := 0; i < *studentCount; i++ {
		student := &model.Student{
			NISN:         fmt.Sprintf("user%d", i+1),
			Name:         names[i%len(names)],
			PasswordHash: password,
		}

		if err := studentRepo.Create(ctx, student); err != nil {
			if errors.Is(err, repository.ErrDuplicateNISN) {
				continue
			}
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", student.Name, student.NISN, err)
			continue
		}
		successCount++
		if successCount%10 == 0 {
			fmt.Printf("Created %d students...\n", successCount)
		}
	}
	fmt.Printf("Added %d/%d students.\n", successCount, *studentCount)

	if *instructorEmail == "" {
		return
	}

	// ─── Demo Exam & Code ──────────────────────────────────────────────
	instructor, err := instructorRepo.GetByEmail(ctx, *instructorEmail)
	if err != nil {
		log.Fatal().Err(err).Str("email", *instructorEmail).Msg("Instructor not found, run create-instructor first")
	}

	exam := &model.Exam{
		Kind:            model.ExamKindRegular,
		Title:           "Matematika Dasar",
		AuthorID:        instructor.ID,
		DurationMinutes: 20,
		QuestionCount:   25,
		MaxAttempts:     1,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	if *teacherPassword != "" {
		if err := codeService.SetTeacherPassword(ctx, instructor.ID, exam.Kind, exam.ID, *teacherPassword); err != nil {
			log.Fatal().Err(err).Msg("Failed to set teacher password")
		}
	}

	req := model.CreateExamCodeRequest{
		Kind:         exam.Kind,
		ExamID:       exam.ID,
		Code:         *code,
		ExpiresAtUTC: time.Now().UTC().Add(7 * 24 * time.Hour),
	}
	if *maxUses > 0 {
		req.MaxUses = maxUses
	}

	created, err := codeService.Create(ctx, instructor.ID, req)
	if err != nil {
		log.Fatal().Err(err).Str("code", *code).Msg("Failed to create exam code")
	}

	fmt.Printf("\nSeed completed! Exam %s (%s) unlocked by code %s until %s\n",
		exam.ID, exam.Title, created.Code, created.ExpiresAt.Format(time.RFC3339))
}
