package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"synchro/backend/pkg/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateVideo(ctx context.Context, video *models.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockRepository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Video), args.Error(1)
}

func (m *MockRepository) UpdateVideo(ctx context.Context, video *models.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)
	return args.Error(0)
}

func (m *MockRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockRepository) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)
	return args.Error(0)
}

func (m *MockRepository) ListWorkflowsForUser(ctx context.Context, userID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockRepository) ListAnalyzingWorkflowIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) ReplaceSteps(ctx context.Context, workflowID string, steps []*models.AnalysisStep) error {
	args := m.Called(ctx, workflowID, steps)
	return args.Error(0)
}

func (m *MockRepository) ListSteps(ctx context.Context, workflowID string) ([]*models.AnalysisStep, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AnalysisStep), args.Error(1)
}

func (m *MockRepository) CountSteps(ctx context.Context, workflowID string) (int, error) {
	args := m.Called(ctx, workflowID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) GetStep(ctx context.Context, id string) (*models.AnalysisStep, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisStep), args.Error(1)
}

func (m *MockRepository) UpdateStepNote(ctx context.Context, id string, note string) error {
	args := m.Called(ctx, id, note)
	return args.Error(0)
}

func (m *MockRepository) GetRequestCount(ctx context.Context, userID string, day time.Time) (int, error) {
	args := m.Called(ctx, userID, day)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) IncrementRequestCount(ctx context.Context, userID string, day time.Time, now time.Time) error {
	args := m.Called(ctx, userID, day, now)
	return args.Error(0)
}

func (m *MockRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	args := m.Called(ctx, team)
	return args.Error(0)
}

func (m *MockRepository) CreateTeamMember(ctx context.Context, member *models.TeamMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockRepository) GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	args := m.Called(ctx, teamID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TeamMember), args.Error(1)
}

func (m *MockRepository) ListActiveTeamMemberships(ctx context.Context, userID string) ([]*models.TeamMember, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TeamMember), args.Error(1)
}

func (m *MockRepository) CreateWorkflowShare(ctx context.Context, share *models.WorkflowShare) error {
	args := m.Called(ctx, share)
	return args.Error(0)
}

func (m *MockRepository) ListWorkflowShares(ctx context.Context, workflowID string) ([]*models.WorkflowShare, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowShare), args.Error(1)
}

func (m *MockRepository) CreateWorkflowMember(ctx context.Context, member *models.WorkflowMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockRepository) GetWorkflowMember(ctx context.Context, workflowID, userID string) (*models.WorkflowMember, error) {
	args := m.Called(ctx, workflowID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowMember), args.Error(1)
}

type MockFrameExtractor struct {
	mock.Mock
}

func (m *MockFrameExtractor) ExtractFrames(ctx context.Context, videoPath string, maxFrames int) ([]string, func(), error) {
	args := m.Called(ctx, videoPath, maxFrames)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]string), func() {}, args.Error(2)
}

func (m *MockFrameExtractor) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	args := m.Called(ctx, videoPath)
	return args.Get(0).(float64), args.Error(1)
}

type MockVisionClient struct {
	mock.Mock
}

func (m *MockVisionClient) InferSteps(ctx context.Context, framePaths []string) ([]models.InferredStep, error) {
	args := m.Called(ctx, framePaths)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.InferredStep), args.Error(1)
}

type MockMediaStore struct {
	mock.Mock
}

func (m *MockMediaStore) DownloadVideo(ctx context.Context, objectPath string) (string, func(), error) {
	args := m.Called(ctx, objectPath)
	return args.String(0), func() {}, args.Error(2)
}

func (m *MockMediaStore) ArchiveFrames(ctx context.Context, framePaths []string, workflowID string) []string {
	args := m.Called(ctx, framePaths, workflowID)
	if args.Get(0) == nil {
		return make([]string, len(framePaths))
	}
	return args.Get(0).([]string)
}
