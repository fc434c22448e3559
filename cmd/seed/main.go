package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"synchro/backend/internal/config"
	"synchro/backend/internal/logging"
	"synchro/backend/internal/repository"
	"synchro/backend/pkg/models"
)

// Seeds a demo workflow with canned steps so a fresh install has something
// to show before the first real analysis.
func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to bootstrap schema: %v", err)
	}

	repo := repository.NewPostgresRepository(pool)
	demoUser := "demo-user"

	video := &models.Video{
		ID:         uuid.New().String(),
		UserID:     demoUser,
		Filename:   "expense-report.mp4",
		ObjectPath: "videos/demo/expense-report.mp4",
		Status:     models.VideoStatusCompleted,
		Progress:   100,
	}
	if err := repo.CreateVideo(ctx, video); err != nil {
		log.Fatalf("Failed to create demo video: %v", err)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:           uuid.New().String(),
		UserID:       demoUser,
		VideoID:      video.ID,
		Title:        "Submitting an expense report",
		Description:  "Walkthrough of the monthly expense submission process.",
		DurationSecs: 94,
		Status:       models.WorkflowStatusAnalyzed,
		IsDemo:       true,
		RequestedAt:  now,
		CompletedAt:  &now,
	}
	if err := repo.CreateWorkflow(ctx, workflow); err != nil {
		log.Fatalf("Failed to create demo workflow: %v", err)
	}

	seedSteps := []struct {
		Type        models.StepType
		Action      string
		Description string
		Confidence  int
	}{
		{models.StepTypeNavigate, "Open the expenses portal", "The user navigates to the internal expenses portal from the intranet home page.", 95},
		{models.StepTypeClick, "Start a new report", "The user clicks the New Report button in the top right corner.", 92},
		{models.StepTypeInput, "Enter expense details", "The user fills in date, amount and category for each receipt.", 88},
		{models.StepTypeDecision, "Choose an approver", "The user selects their line manager from the approver dropdown.", 81},
		{models.StepTypeClick, "Submit the report", "The user submits the report and the portal shows a confirmation banner.", 94},
	}

	steps := make([]*models.AnalysisStep, len(seedSteps))
	for i, s := range seedSteps {
		steps[i] = &models.AnalysisStep{
			ID:          uuid.New().String(),
			WorkflowID:  workflow.ID,
			SequenceNo:  i + 1,
			Type:        s.Type,
			Action:      s.Action,
			Description: s.Description,
			Confidence:  s.Confidence,
		}
	}
	if err := repo.ReplaceSteps(ctx, workflow.ID, steps); err != nil {
		log.Fatalf("Failed to create demo steps: %v", err)
	}

	logger.Info("Seeded demo workflow", "workflow_id", workflow.ID, "steps", len(steps))
}
