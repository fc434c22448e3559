package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"synchro/backend/pkg/models"
)

// WorkflowResponse is a workflow document with its ordered steps.
type WorkflowResponse struct {
	Workflow *models.Workflow       `json:"workflow"`
	Steps    []*models.AnalysisStep `json:"steps"`
}

// GetWorkflow returns a workflow and its steps. Every read is mediated by
// the access resolver.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
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

	steps, err := s.Repo.ListSteps(ctx, workflow.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, WorkflowResponse{Workflow: workflow, Steps: steps})
}

// ListWorkflows returns the workflows the caller can read.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	uid, err := userID(c)
	if err != nil {
		return err
	}

	candidates, err := s.Repo.ListWorkflowsForUser(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// candidate rows still need share-row narrowing
	readable := make([]*models.Workflow, 0, len(candidates))
	for _, w := range candidates {
		allowed, err := s.Access.CanRead(ctx, w, uid)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if allowed {
			readable = append(readable, w)
		}
	}

	return c.JSON(http.StatusOK, readable)
}

// UpdateStepNoteRequest carries the new note text.
type UpdateStepNoteRequest struct {
	Note string `json:"note"`
}

// UpdateStepNote sets the free-text note on a step, for users allowed to
// read the owning workflow.
// (PATCH /api/v1/steps/:id/note)
func (s *Server) UpdateStepNote(c echo.Context) error {
	ctx := c.Request().Context()

	uid, err := userID(c)
	if err != nil {
		return err
	}

	var req UpdateStepNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	step, err := s.Repo.GetStep(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return problem(c, http.StatusNotFound, "Not Found", "step not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	workflow, err := s.Repo.GetWorkflow(ctx, step.WorkflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	allowed, err := s.Access.CanRead(ctx, workflow, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !allowed {
		return problem(c, http.StatusForbidden, "Forbidden", "no access to this workflow")
	}

	if err := s.Repo.UpdateStepNote(ctx, step.ID, req.Note); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}
