package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"synchro/backend/internal/services"
	"synchro/backend/pkg/models"
)

// StartAnalysisResponse is returned when an analysis job is accepted.
type StartAnalysisResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// RateLimitedResponse is the 429 body; the reset time is machine-readable
// so clients can display a countdown.
type RateLimitedResponse struct {
	Error             string    `json:"error"`
	ResetTime         time.Time `json:"resetTime"`
	RemainingRequests int       `json:"remainingRequests"`
}

// StartAnalysis accepts an analysis request for an uploaded video. The
// rate limiter gates the request before any state changes; on acceptance
// the workflow id is returned immediately and the job runs asynchronously.
// (POST /api/v1/videos/:id/analyze)
func (s *Server) StartAnalysis(c echo.Context) error {
	ctx := c.Request().Context()

	uid, err := userID(c)
	if err != nil {
		return err
	}

	workflowID, err := s.Analyzer.StartAnalysis(ctx, uid, c.Param("id"))
	if err != nil {
		var limited *services.RateLimitExceededError
		switch {
		case errors.As(err, &limited):
			return c.JSON(http.StatusTooManyRequests, RateLimitedResponse{
				Error:             limited.Message,
				ResetTime:         limited.ResetTime,
				RemainingRequests: 0,
			})
		case errors.Is(err, services.ErrNotVideoOwner):
			return problem(c, http.StatusForbidden, "Forbidden", "video belongs to another user")
		case errors.Is(err, pgx.ErrNoRows):
			return problem(c, http.StatusNotFound, "Not Found", "video not found")
		}
		s.Logger.Error("failed to start analysis", "video_id", c.Param("id"), "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", "failed to start analysis")
	}

	return c.JSON(http.StatusOK, StartAnalysisResponse{WorkflowID: workflowID})
}

// WorkflowStatusResponse is the poll response for an in-flight or finished
// analysis.
type WorkflowStatusResponse struct {
	WorkflowID  string                `json:"workflow_id"`
	Status      models.WorkflowStatus `json:"status"`
	Progress    int                   `json:"progress"`
	StepsCount  int                   `json:"steps_count"`
	Title       string                `json:"title"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// GetWorkflowStatus reports job status and heuristic progress for polling
// clients.
// (GET /api/v1/workflows/:id/status)
func (s *Server) GetWorkflowStatus(c echo.Context) error {
	ctx := c.Request().Context()

	uid, err := userID(c)
	if err != nil {
		return err
	}

	workflow, err := s.Repo.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return problem(c, http.StatusNotFound, "Not Found", "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	allowed, err := s.Access.CanRead(ctx, workflow, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !allowed {
		return problem(c, http.StatusForbidden, "Forbidden", "no access to this workflow")
	}

	progress, err := s.Analyzer.Progress(ctx, workflow)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	count, err := s.Repo.CountSteps(ctx, workflow.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, WorkflowStatusResponse{
		WorkflowID:  workflow.ID,
		Status:      workflow.Status,
		Progress:    progress,
		StepsCount:  count,
		Title:       workflow.Title,
		CreatedAt:   workflow.CreatedAt,
		CompletedAt: workflow.CompletedAt,
	})
}

// GetRateLimitStatus reports the caller's current daily quota usage.
// (GET /api/v1/rate-limit)
func (s *Server) GetRateLimitStatus(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	status, err := s.Limiter.Status(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}
