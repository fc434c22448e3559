// Package api contains the HTTP handlers for the analysis service
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"synchro/backend/internal/auth"
	"synchro/backend/internal/logging"
	"synchro/backend/internal/repository"
	"synchro/backend/internal/services"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo     repository.Repository
	Analyzer *services.AnalysisService
	Limiter  *services.RateLimiter
	Access   *services.AccessResolver
	Logger   *logging.Logger
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, analyzer *services.AnalysisService, limiter *services.RateLimiter, access *services.AccessResolver, logger *logging.Logger) *Server {
	return &Server{
		Repo:     repo,
		Analyzer: analyzer,
		Limiter:  limiter,
		Access:   access,
		Logger:   logger,
	}
}

// RegisterHandlers mounts the REST API routes on the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/videos/:id/analyze", s.StartAnalysis)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.GET("/workflows/:id/status", s.GetWorkflowStatus)
	g.PATCH("/steps/:id/note", s.UpdateStepNote)
	g.GET("/rate-limit", s.GetRateLimitStatus)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "synchro-backend",
		Version:   "1.0.0",
	})
}

// userID pulls the authenticated user's id out of the request context.
func userID(c echo.Context) (string, error) {
	id, ok := c.Request().Context().Value(auth.UserIDKey).(string)
	if !ok || id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "user identity not found in context")
	}
	return id, nil
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response
func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
