package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"synchro/backend/internal/logging"
	"synchro/backend/internal/repository"
	"synchro/backend/pkg/models"
)

var (
	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synchro_analysis_duration_seconds",
		Help:    "Duration of one video analysis job in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synchro_analyses_total",
		Help: "Total number of analysis jobs by outcome",
	}, []string{"outcome"})
)

// ErrNotVideoOwner is returned when a user requests analysis of a video
// they did not upload.
var ErrNotVideoOwner = errors.New("video does not belong to requester")

// AnalysisOutcome tags the result of the inference pipeline so telemetry
// can tell a real model result from the canned fallback.
type AnalysisOutcome struct {
	Steps    []models.InferredStep
	Fallback bool
	// Cause is the pipeline failure that forced the fallback, nil otherwise.
	Cause error
}

// mockSteps is the fixed sequence substituted when the real pipeline
// fails. The job still terminates in the analyzed state; the substitution
// is recorded in logs and metrics.
var mockSteps = []models.InferredStep{
	{Type: models.StepTypeNavigate, Action: "Open the application", Description: "The user opens the application landing page in the browser.", Confidence: 60},
	{Type: models.StepTypeClick, Action: "Sign in", Description: "The user clicks the sign-in button and authenticates.", Confidence: 60},
	{Type: models.StepTypeInput, Action: "Fill in the form", Description: "The user enters the required values into the form fields.", Confidence: 60},
	{Type: models.StepTypeClick, Action: "Submit", Description: "The user submits the form to start the operation.", Confidence: 60},
	{Type: models.StepTypeWait, Action: "Wait for confirmation", Description: "The user waits for the confirmation screen to appear.", Confidence: 60},
}

// AnalysisService orchestrates the video-to-workflow pipeline: frame
// extraction, step inference, screenshot archiving, step persistence and
// job status transitions. Jobs run on a supervised in-process worker pool;
// all coordination state lives in the workflow and video rows, so a crash
// leaves inspectable state and stuck jobs are re-enqueued at startup.
type AnalysisService struct {
	repo      repository.Repository
	extractor FrameExtractor
	vision    VisionClient
	media     MediaStore
	limiter   *RateLimiter
	logger    *logging.Logger
	maxFrames int
	workers   int

	jobs chan string
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	repo repository.Repository,
	extractor FrameExtractor,
	vision VisionClient,
	media MediaStore,
	limiter *RateLimiter,
	logger *logging.Logger,
	maxFrames, workers int,
) *AnalysisService {
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	if workers <= 0 {
		workers = 4
	}
	return &AnalysisService{
		repo:      repo,
		extractor: extractor,
		vision:    vision,
		media:     media,
		limiter:   limiter,
		logger:    logger,
		maxFrames: maxFrames,
		workers:   workers,
		jobs:      make(chan string, 64),
		quit:      make(chan struct{}),
	}
}

// Start launches the worker pool and re-enqueues workflows left in the
// analyzing state by a previous process.
func (s *AnalysisService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	stuck, err := s.repo.ListAnalyzingWorkflowIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list stuck workflows for recovery", "error", err)
		return
	}
	for _, id := range stuck {
		s.logger.Info("re-enqueueing interrupted analysis", "workflow_id", id)
		s.enqueue(id)
	}
}

// Stop signals the workers and any pending overflow handoffs to exit, then
// waits for in-flight jobs to finish. Queued jobs are abandoned; the rows
// stay in analyzing and the startup recovery re-enqueues them.
func (s *AnalysisService) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *AnalysisService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case id := <-s.jobs:
			s.run(ctx, id)
		}
	}
}

// enqueue never blocks the caller and never sends on a channel that Stop
// might be tearing down: the jobs channel is never closed, and an overflow
// handoff gives up when quit fires.
func (s *AnalysisService) enqueue(workflowID string) {
	select {
	case s.jobs <- workflowID:
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case s.jobs <- workflowID:
			case <-s.quit:
			}
		}()
	}
}

// StartAnalysis gates the request through the rate limiter, creates the
// workflow row in analyzing state, moves the video to uploading and hands
// the job to the worker pool. It returns the workflow id immediately;
// clients poll for completion.
func (s *AnalysisService) StartAnalysis(ctx context.Context, userID, videoID string) (string, error) {
	video, err := s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return "", err
	}
	if video.UserID != userID {
		return "", ErrNotVideoOwner
	}

	// reject before any state changes
	if err := s.limiter.Enforce(ctx, userID); err != nil {
		return "", err
	}

	teamID, err := s.pickTeam(ctx, userID)
	if err != nil {
		return "", err
	}

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		UserID:      userID,
		TeamID:      teamID,
		VideoID:     video.ID,
		Title:       titleFromFilename(video.Filename),
		Status:      models.WorkflowStatusAnalyzing,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateWorkflow(ctx, workflow); err != nil {
		return "", err
	}

	video.Status = models.VideoStatusUploading
	video.Progress = 0
	video.Message = ""
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return "", err
	}

	s.enqueue(workflow.ID)
	return workflow.ID, nil
}

// pickTeam returns the user's highest-priority active team membership
// (owner > admin > member), or nil when the workflow stays personal.
func (s *AnalysisService) pickTeam(ctx context.Context, userID string) (*string, error) {
	memberships, err := s.repo.ListActiveTeamMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	var best *models.TeamMember
	for _, m := range memberships {
		if best == nil || models.RolePriority(m.Role) < models.RolePriority(best.Role) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	teamID := best.TeamID
	return &teamID, nil
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" {
		return "Untitled workflow"
	}
	return base
}

// run executes one analysis job to a terminal state. Pipeline failures are
// absorbed into the mock fallback inside process; only an error escaping
// process (a persistence failure) reverts the workflow to pending and
// marks the video errored.
func (s *AnalysisService) run(ctx context.Context, workflowID string) {
	start := time.Now()
	outcome := "real"

	defer func() {
		analysisDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		analysesTotal.WithLabelValues(outcome).Inc()
	}()

	workflow, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		s.logger.Error("analysis job lost its workflow row", "workflow_id", workflowID, "error", err)
		outcome = "error"
		return
	}
	video, err := s.repo.GetVideo(ctx, workflow.VideoID)
	if err != nil {
		s.logger.Error("analysis job lost its video row", "workflow_id", workflowID, "error", err)
		outcome = "error"
		return
	}

	fallback, err := s.process(ctx, workflow, video)
	if err != nil {
		s.logger.Error("analysis failed", "workflow_id", workflowID, "error", err)
		outcome = "error"

		workflow.Status = models.WorkflowStatusPending
		if uerr := s.repo.UpdateWorkflow(ctx, workflow); uerr != nil {
			s.logger.Error("failed to revert workflow status", "workflow_id", workflowID, "error", uerr)
		}
		video.Status = models.VideoStatusError
		video.Message = err.Error()
		if uerr := s.repo.UpdateVideo(ctx, video); uerr != nil {
			s.logger.Error("failed to mark video errored", "video_id", video.ID, "error", uerr)
		}
		return
	}
	if fallback {
		outcome = "fallback"
	}

	s.logger.Info("analysis completed", "workflow_id", workflowID, "outcome", outcome,
		"duration", time.Since(start).String())
}

// process runs the pipeline and persists the result. The returned bool
// reports whether the mock fallback was used. Returned errors are
// persistence failures and fatal to the job.
func (s *AnalysisService) process(ctx context.Context, workflow *models.Workflow, video *models.Video) (bool, error) {
	video.Status = models.VideoStatusProcessing
	video.Progress = 10
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return false, fmt.Errorf("failed to mark video processing: %w", err)
	}

	result := s.infer(ctx, workflow, video)
	if result.Fallback {
		s.logger.Warn("pipeline failed, substituting mock steps",
			"workflow_id", workflow.ID, "cause", result.Cause)
	}

	steps := make([]*models.AnalysisStep, len(result.Steps))
	for i, inferred := range result.Steps {
		steps[i] = &models.AnalysisStep{
			ID:          uuid.New().String(),
			WorkflowID:  workflow.ID,
			SequenceNo:  i + 1,
			Type:        inferred.Type,
			Action:      inferred.Action,
			Description: inferred.Description,
			Confidence:  inferred.Confidence,
		}
		if i < len(result.screenshotURLs) {
			steps[i].ScreenshotURL = result.screenshotURLs[i]
		}
	}
	if err := s.repo.ReplaceSteps(ctx, workflow.ID, steps); err != nil {
		return result.Fallback, fmt.Errorf("failed to persist steps: %w", err)
	}

	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusAnalyzed
	workflow.CompletedAt = &now
	workflow.DurationSecs = result.durationSecs
	if len(result.screenshotURLs) > 0 && result.screenshotURLs[0] != "" {
		workflow.ThumbnailURL = result.screenshotURLs[0]
	}
	if err := s.repo.UpdateWorkflow(ctx, workflow); err != nil {
		return result.Fallback, fmt.Errorf("failed to mark workflow analyzed: %w", err)
	}

	video.Status = models.VideoStatusCompleted
	video.Progress = 100
	video.Message = ""
	if err := s.repo.UpdateVideo(ctx, video); err != nil {
		return result.Fallback, fmt.Errorf("failed to mark video completed: %w", err)
	}

	return result.Fallback, nil
}

// inferResult extends AnalysisOutcome with the artifacts the pipeline
// produced alongside the steps.
type inferResult struct {
	AnalysisOutcome
	screenshotURLs []string
	durationSecs   float64
}

// infer runs download -> extract -> infer -> archive and never fails:
// any error on the way collapses into the mock fallback so the job always
// reaches a terminal state.
func (s *AnalysisService) infer(ctx context.Context, workflow *models.Workflow, video *models.Video) inferResult {
	localPath, cleanupVideo, err := s.media.DownloadVideo(ctx, video.ObjectPath)
	if err != nil {
		return inferResult{AnalysisOutcome: AnalysisOutcome{Steps: mockSteps, Fallback: true, Cause: err}}
	}
	defer cleanupVideo()

	duration, err := s.extractor.ProbeDuration(ctx, localPath)
	if err != nil {
		s.logger.Debug("duration probe failed", "video_id", video.ID, "error", err)
		duration = 0
	}

	frames, cleanupFrames, err := s.extractor.ExtractFrames(ctx, localPath, s.maxFrames)
	if err != nil {
		return inferResult{
			AnalysisOutcome: AnalysisOutcome{Steps: mockSteps, Fallback: true, Cause: err},
			durationSecs:    duration,
		}
	}
	defer cleanupFrames()

	inferred, err := s.vision.InferSteps(ctx, frames)
	if err != nil {
		return inferResult{
			AnalysisOutcome: AnalysisOutcome{Steps: mockSteps, Fallback: true, Cause: err},
			durationSecs:    duration,
		}
	}

	// best-effort: a failed upload leaves that step without a screenshot
	urls := s.media.ArchiveFrames(ctx, frames, workflow.ID)

	return inferResult{
		AnalysisOutcome: AnalysisOutcome{Steps: inferred},
		screenshotURLs:  urls,
		durationSecs:    duration,
	}
}

// Progress derives the poll-visible progress for a workflow. Terminal
// analyzed state is always 100; while analyzing it is a heuristic over the
// persisted step count, capped below 100 so clients never see a premature
// completion.
func (s *AnalysisService) Progress(ctx context.Context, workflow *models.Workflow) (int, error) {
	switch workflow.Status {
	case models.WorkflowStatusAnalyzed:
		return 100, nil
	case models.WorkflowStatusAnalyzing:
		count, err := s.repo.CountSteps(ctx, workflow.ID)
		if err != nil {
			return 0, err
		}
		progress := count * 20
		if progress > 90 {
			progress = 90
		}
		return progress, nil
	default:
		return 0, nil
	}
}
