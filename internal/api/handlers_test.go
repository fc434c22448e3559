package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synchro/backend/internal/auth"
	"synchro/backend/internal/config"
	"synchro/backend/internal/logging"
	"synchro/backend/internal/services"
	"synchro/backend/pkg/models"
)

// fakeRepo is an in-memory Repository for handler tests.
type fakeRepo struct {
	videos      map[string]*models.Video
	workflows   map[string]*models.Workflow
	steps       map[string]*models.AnalysisStep
	teamMembers []*models.TeamMember
	shares      []*models.WorkflowShare
	wfMembers   []*models.WorkflowMember
	counts      map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		videos:    make(map[string]*models.Video),
		workflows: make(map[string]*models.Workflow),
		steps:     make(map[string]*models.AnalysisStep),
		counts:    make(map[string]int),
	}
}

func (f *fakeRepo) CreateVideo(ctx context.Context, v *models.Video) error {
	f.videos[v.ID] = v
	return nil
}

func (f *fakeRepo) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	v, ok := f.videos[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return v, nil
}

func (f *fakeRepo) UpdateVideo(ctx context.Context, v *models.Video) error {
	f.videos[v.ID] = v
	return nil
}

func (f *fakeRepo) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	f.workflows[w.ID] = w
	return nil
}

func (f *fakeRepo) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	w, ok := f.workflows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return w, nil
}

func (f *fakeRepo) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	f.workflows[w.ID] = w
	return nil
}

func (f *fakeRepo) ListWorkflowsForUser(ctx context.Context, userID string) ([]*models.Workflow, error) {
	var out []*models.Workflow
	for _, w := range f.workflows {
		if w.UserID == userID {
			out = append(out, w)
			continue
		}
		if w.TeamID != nil {
			for _, m := range f.teamMembers {
				if m.TeamID == *w.TeamID && m.UserID == userID && m.Status == models.MemberStatusActive {
					out = append(out, w)
					break
				}
			}
			continue
		}
		for _, m := range f.wfMembers {
			if m.WorkflowID == w.ID && m.UserID == userID && m.Status == models.MemberStatusActive {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAnalyzingWorkflowIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for _, w := range f.workflows {
		if w.Status == models.WorkflowStatusAnalyzing {
			ids = append(ids, w.ID)
		}
	}
	return ids, nil
}

func (f *fakeRepo) ReplaceSteps(ctx context.Context, workflowID string, steps []*models.AnalysisStep) error {
	for id, s := range f.steps {
		if s.WorkflowID == workflowID {
			delete(f.steps, id)
		}
	}
	for _, s := range steps {
		f.steps[s.ID] = s
	}
	return nil
}

func (f *fakeRepo) ListSteps(ctx context.Context, workflowID string) ([]*models.AnalysisStep, error) {
	var out []*models.AnalysisStep
	for _, s := range f.steps {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out, nil
}

func (f *fakeRepo) CountSteps(ctx context.Context, workflowID string) (int, error) {
	count := 0
	for _, s := range f.steps {
		if s.WorkflowID == workflowID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) GetStep(ctx context.Context, id string) (*models.AnalysisStep, error) {
	s, ok := f.steps[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeRepo) UpdateStepNote(ctx context.Context, id string, note string) error {
	f.steps[id].UserNote = &note
	return nil
}

func limitKey(userID string, day time.Time) string {
	return userID + "/" + day.Format("2006-01-02")
}

func (f *fakeRepo) GetRequestCount(ctx context.Context, userID string, day time.Time) (int, error) {
	return f.counts[limitKey(userID, day)], nil
}

func (f *fakeRepo) IncrementRequestCount(ctx context.Context, userID string, day time.Time, now time.Time) error {
	f.counts[limitKey(userID, day)]++
	return nil
}

func (f *fakeRepo) CreateTeam(ctx context.Context, team *models.Team) error { return nil }

func (f *fakeRepo) CreateTeamMember(ctx context.Context, m *models.TeamMember) error {
	f.teamMembers = append(f.teamMembers, m)
	return nil
}

func (f *fakeRepo) GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	for _, m := range f.teamMembers {
		if m.TeamID == teamID && m.UserID == userID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListActiveTeamMemberships(ctx context.Context, userID string) ([]*models.TeamMember, error) {
	var out []*models.TeamMember
	for _, m := range f.teamMembers {
		if m.UserID == userID && m.Status == models.MemberStatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateWorkflowShare(ctx context.Context, s *models.WorkflowShare) error {
	f.shares = append(f.shares, s)
	return nil
}

func (f *fakeRepo) ListWorkflowShares(ctx context.Context, workflowID string) ([]*models.WorkflowShare, error) {
	var out []*models.WorkflowShare
	for _, s := range f.shares {
		if s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateWorkflowMember(ctx context.Context, m *models.WorkflowMember) error {
	f.wfMembers = append(f.wfMembers, m)
	return nil
}

func (f *fakeRepo) GetWorkflowMember(ctx context.Context, workflowID, userID string) (*models.WorkflowMember, error) {
	for _, m := range f.wfMembers {
		if m.WorkflowID == workflowID && m.UserID == userID {
			return m, nil
		}
	}
	return nil, nil
}

func newTestServer(repo *fakeRepo) (*Server, *echo.Echo) {
	logger := logging.NewLogger()
	limiter := services.NewRateLimiter(repo, config.RateLimitConfig{MaxDailyRequests: 3})
	// the worker pool is never started, so the pipeline dependencies stay unused
	analyzer := services.NewAnalysisService(repo, nil, nil, nil, limiter, logger, 8, 1)
	access := services.NewAccessResolver(repo)
	return NewServer(repo, analyzer, limiter, access, logger), echo.New()
}

func doRequest(e *echo.Echo, method, body, uid string, params map[string]string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/", reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, uid))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)

	return rec, handler(c)
}

func seedVideo(repo *fakeRepo, userID string) *models.Video {
	video := &models.Video{
		ID:         uuid.New().String(),
		UserID:     userID,
		Filename:   "expense-report.mp4",
		ObjectPath: "videos/" + userID + "/expense-report.mp4",
		Status:     models.VideoStatusIdle,
	}
	repo.videos[video.ID] = video
	return video
}

func seedWorkflow(repo *fakeRepo, userID string, teamID *string, status models.WorkflowStatus) *models.Workflow {
	video := seedVideo(repo, userID)
	workflow := &models.Workflow{
		ID:      uuid.New().String(),
		UserID:  userID,
		TeamID:  teamID,
		VideoID: video.ID,
		Title:   "Expense report",
		Status:  status,
	}
	repo.workflows[workflow.ID] = workflow
	return workflow
}

func TestStartAnalysis(t *testing.T) {
	t.Run("accepts and returns the workflow id", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		video := seedVideo(repo, "u1")

		rec, err := doRequest(e, http.MethodPost, "", "u1",
			map[string]string{"id": video.ID}, s.StartAnalysis)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp StartAnalysisResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.WorkflowID)

		workflow, err := repo.GetWorkflow(context.Background(), resp.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusAnalyzing, workflow.Status)
		assert.Equal(t, models.VideoStatusUploading, video.Status)
	})

	t.Run("returns 429 with the reset time when over quota", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		video := seedVideo(repo, "u1")
		repo.counts[limitKey("u1", time.Now().UTC().Truncate(24*time.Hour))] = 3

		rec, err := doRequest(e, http.MethodPost, "", "u1",
			map[string]string{"id": video.ID}, s.StartAnalysis)
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		var resp RateLimitedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
		assert.False(t, resp.ResetTime.IsZero())
		assert.Zero(t, resp.RemainingRequests)
		assert.Empty(t, repo.workflows, "no workflow row on a rejected request")
	})

	t.Run("rejects someone else's video", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		video := seedVideo(repo, "owner")

		rec, err := doRequest(e, http.MethodPost, "", "intruder",
			map[string]string{"id": video.ID}, s.StartAnalysis)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown video is 404", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)

		rec, err := doRequest(e, http.MethodPost, "", "u1",
			map[string]string{"id": uuid.New().String()}, s.StartAnalysis)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetWorkflow(t *testing.T) {
	t.Run("owner sees workflow with ordered steps", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzed)
		repo.steps["s2"] = &models.AnalysisStep{ID: "s2", WorkflowID: workflow.ID, SequenceNo: 2, Action: "second"}
		repo.steps["s1"] = &models.AnalysisStep{ID: "s1", WorkflowID: workflow.ID, SequenceNo: 1, Action: "first"}

		rec, err := doRequest(e, http.MethodGet, "", "u1",
			map[string]string{"id": workflow.ID}, s.GetWorkflow)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp WorkflowResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Steps, 2)
		assert.Equal(t, "first", resp.Steps[0].Action)
		assert.Equal(t, "second", resp.Steps[1].Action)
	})

	t.Run("stranger is rejected with problem details", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzed)

		rec, err := doRequest(e, http.MethodGet, "", "stranger",
			map[string]string{"id": workflow.ID}, s.GetWorkflow)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
	})

	t.Run("missing workflow is 404", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)

		rec, err := doRequest(e, http.MethodGet, "", "u1",
			map[string]string{"id": uuid.New().String()}, s.GetWorkflow)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetWorkflowStatus(t *testing.T) {
	t.Run("analyzing reports heuristic progress", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzing)
		repo.steps["s1"] = &models.AnalysisStep{ID: "s1", WorkflowID: workflow.ID, SequenceNo: 1}
		repo.steps["s2"] = &models.AnalysisStep{ID: "s2", WorkflowID: workflow.ID, SequenceNo: 2}

		rec, err := doRequest(e, http.MethodGet, "", "u1",
			map[string]string{"id": workflow.ID}, s.GetWorkflowStatus)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp WorkflowStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, models.WorkflowStatusAnalyzing, resp.Status)
		assert.Equal(t, 40, resp.Progress)
		assert.Equal(t, 2, resp.StepsCount)
	})

	t.Run("analyzed reports full progress", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzed)

		rec, err := doRequest(e, http.MethodGet, "", "u1",
			map[string]string{"id": workflow.ID}, s.GetWorkflowStatus)
		require.NoError(t, err)

		var resp WorkflowStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 100, resp.Progress)
	})
}

func TestListWorkflows(t *testing.T) {
	t.Run("share rows narrow team visibility", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)

		teamID := uuid.New().String()
		member := &models.TeamMember{
			ID: uuid.New().String(), TeamID: teamID, UserID: "viewer",
			Role: models.TeamRoleMember, Status: models.MemberStatusActive,
		}
		repo.teamMembers = append(repo.teamMembers, member)

		visible := seedWorkflow(repo, "author", &teamID, models.WorkflowStatusAnalyzed)

		restricted := seedWorkflow(repo, "author", &teamID, models.WorkflowStatusAnalyzed)
		repo.shares = append(repo.shares, &models.WorkflowShare{
			ID: uuid.New().String(), WorkflowID: restricted.ID, TeamMemberID: uuid.New().String(),
		})

		rec, err := doRequest(e, http.MethodGet, "", "viewer", nil, s.ListWorkflows)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var listed []*models.Workflow
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
		require.Len(t, listed, 1)
		assert.Equal(t, visible.ID, listed[0].ID)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)

		rec, err := doRequest(e, http.MethodGet, "", "nobody", nil, s.ListWorkflows)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]\n", rec.Body.String())
	})
}

func TestUpdateStepNote(t *testing.T) {
	t.Run("reader can annotate a step", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzed)
		repo.steps["s1"] = &models.AnalysisStep{ID: "s1", WorkflowID: workflow.ID, SequenceNo: 1}

		rec, err := doRequest(e, http.MethodPatch, `{"note": "verify the totals here"}`, "u1",
			map[string]string{"id": "s1"}, s.UpdateStepNote)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		require.NotNil(t, repo.steps["s1"].UserNote)
		assert.Equal(t, "verify the totals here", *repo.steps["s1"].UserNote)
	})

	t.Run("stranger cannot annotate", func(t *testing.T) {
		repo := newFakeRepo()
		s, e := newTestServer(repo)
		workflow := seedWorkflow(repo, "u1", nil, models.WorkflowStatusAnalyzed)
		repo.steps["s1"] = &models.AnalysisStep{ID: "s1", WorkflowID: workflow.ID, SequenceNo: 1}

		rec, err := doRequest(e, http.MethodPatch, `{"note": "nope"}`, "stranger",
			map[string]string{"id": "s1"}, s.UpdateStepNote)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, repo.steps["s1"].UserNote)
	})
}

func TestGetRateLimitStatus(t *testing.T) {
	repo := newFakeRepo()
	s, e := newTestServer(repo)
	repo.counts[limitKey("u1", time.Now().UTC().Truncate(24*time.Hour))] = 2

	rec, err := doRequest(e, http.MethodGet, "", "u1", nil, s.GetRateLimitStatus)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var status services.RateLimitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.CurrentCount)
	assert.Equal(t, 3, status.MaxDailyRequests)
	assert.Equal(t, 1, status.RemainingRequests)
	assert.False(t, status.IsLimitExceeded)
}
