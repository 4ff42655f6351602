package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/classworks/assess-backend/internal/config"
	"github.com/classworks/assess-backend/internal/database"
	"github.com/classworks/assess-backend/internal/logger"
	"github.com/classworks/assess-backend/internal/service"
)

// issue-token mints a student JWT and registers it as the student's active
// login. The LMS normally issues tokens out of band; this tool exists for
// local development and smoke testing.
func main() {
	studentKey := flag.String("student", "", "student key to issue a token for")
	reset := flag.Bool("reset", false, "invalidate the student's active login instead of issuing")
	flag.Parse()

	if *studentKey == "" {
		fmt.Fprintln(os.Stderr, "usage: issue-token -student <student_key> [-reset]")
		os.Exit(1)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	authService := service.NewAuthService(cfg, rdb)

	if *reset {
		if err := authService.ResetStudentLogin(ctx, *studentKey); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset login")
		}
		fmt.Printf("Login reset for student %q\n", *studentKey)
		return
	}

	token, err := authService.GenerateStudentToken(ctx, *studentKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	fmt.Println(token)
}
