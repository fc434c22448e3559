package repository

import (
	"context"
	"time"

	"synchro/backend/pkg/models"
)

// Repository is the persistence interface for the analysis service.
//
// Get* methods return pgx.ErrNoRows (wrapped) when the row is missing.
// Membership lookups (GetTeamMember, GetWorkflowMember) instead return
// (nil, nil) when no row exists, since absence is an expected outcome of
// the access checks.
type Repository interface {
	// Videos
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpdateVideo(ctx context.Context, video *models.Video) error

	// Workflows
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// ListWorkflowsForUser returns workflows the user might read: owned,
	// team-owned where the user is an active member, or covered by a legacy
	// membership. Share-row narrowing is applied by the access resolver.
	ListWorkflowsForUser(ctx context.Context, userID string) ([]*models.Workflow, error)
	// ListAnalyzingWorkflowIDs returns ids of workflows stuck in the
	// analyzing state, used for crash recovery at startup.
	ListAnalyzingWorkflowIDs(ctx context.Context) ([]string, error)

	// Steps
	// ReplaceSteps atomically swaps the workflow's step set for the given
	// batch. Replacement rather than insertion keeps recovered runs
	// idempotent: a crash after persisting steps but before the workflow
	// status update must not wedge the re-run on the sequence_no unique key.
	ReplaceSteps(ctx context.Context, workflowID string, steps []*models.AnalysisStep) error
	ListSteps(ctx context.Context, workflowID string) ([]*models.AnalysisStep, error)
	CountSteps(ctx context.Context, workflowID string) (int, error)
	GetStep(ctx context.Context, id string) (*models.AnalysisStep, error)
	UpdateStepNote(ctx context.Context, id string, note string) error

	// Rate limiting
	GetRequestCount(ctx context.Context, userID string, day time.Time) (int, error)
	// IncrementRequestCount upserts the (user, day) row, adding one to the
	// count and stamping the last request time. The unique key on
	// (user_id, request_date) serializes concurrent callers.
	IncrementRequestCount(ctx context.Context, userID string, day time.Time, now time.Time) error

	// Teams and sharing
	CreateTeam(ctx context.Context, team *models.Team) error
	CreateTeamMember(ctx context.Context, member *models.TeamMember) error
	GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
	ListActiveTeamMemberships(ctx context.Context, userID string) ([]*models.TeamMember, error)
	CreateWorkflowShare(ctx context.Context, share *models.WorkflowShare) error
	ListWorkflowShares(ctx context.Context, workflowID string) ([]*models.WorkflowShare, error)
	CreateWorkflowMember(ctx context.Context, member *models.WorkflowMember) error
	GetWorkflowMember(ctx context.Context, workflowID, userID string) (*models.WorkflowMember, error)
}
