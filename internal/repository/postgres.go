package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"synchro/backend/pkg/models"
)

// PostgresRepository is a PostgreSQL implementation of the Repository
// interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateVideo inserts a new video row.
func (r *PostgresRepository) CreateVideo(ctx context.Context, video *models.Video) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO videos (id, user_id, filename, object_path, status, progress, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		video.ID, video.UserID, video.Filename, video.ObjectPath, video.Status, video.Progress, video.Message,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
}

// GetVideo retrieves a video by its ID.
func (r *PostgresRepository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	var v models.Video
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, filename, object_path, status, progress, message, created_at, updated_at
		 FROM videos WHERE id = $1`, id,
	).Scan(&v.ID, &v.UserID, &v.Filename, &v.ObjectPath, &v.Status, &v.Progress, &v.Message, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateVideo persists status, progress and message changes.
func (r *PostgresRepository) UpdateVideo(ctx context.Context, video *models.Video) error {
	_, err := r.db.Exec(ctx,
		`UPDATE videos SET status = $1, progress = $2, message = $3, updated_at = now() WHERE id = $4`,
		video.Status, video.Progress, video.Message, video.ID)
	return err
}

// CreateWorkflow inserts a new workflow row.
func (r *PostgresRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO workflows (id, user_id, team_id, video_id, title, description, duration_seconds,
		                        thumbnail_url, status, is_demo, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		workflow.ID, workflow.UserID, workflow.TeamID, workflow.VideoID, workflow.Title,
		workflow.Description, workflow.DurationSecs, workflow.ThumbnailURL, workflow.Status,
		workflow.IsDemo, workflow.RequestedAt,
	).Scan(&workflow.CreatedAt, &workflow.UpdatedAt)
}

const workflowColumns = `id, user_id, team_id, video_id, title, description, duration_seconds,
	thumbnail_url, status, is_demo, requested_at, completed_at, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	err := row.Scan(&w.ID, &w.UserID, &w.TeamID, &w.VideoID, &w.Title, &w.Description,
		&w.DurationSecs, &w.ThumbnailURL, &w.Status, &w.IsDemo, &w.RequestedAt,
		&w.CompletedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorkflow retrieves a workflow by its ID.
func (r *PostgresRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return scanWorkflow(r.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
}

// UpdateWorkflow persists lifecycle changes on a workflow row.
func (r *PostgresRepository) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	_, err := r.db.Exec(ctx,
		`UPDATE workflows SET title = $1, description = $2, duration_seconds = $3, thumbnail_url = $4,
		        status = $5, completed_at = $6, team_id = $7, updated_at = now()
		 WHERE id = $8`,
		workflow.Title, workflow.Description, workflow.DurationSecs, workflow.ThumbnailURL,
		workflow.Status, workflow.CompletedAt, workflow.TeamID, workflow.ID)
	return err
}

// ListWorkflowsForUser returns workflows the user owns, can see through an
// active team membership, or can see through a legacy workflow membership.
func (r *PostgresRepository) ListWorkflowsForUser(ctx context.Context, userID string) ([]*models.Workflow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT w.id, w.user_id, w.team_id, w.video_id, w.title, w.description,
		        w.duration_seconds, w.thumbnail_url, w.status, w.is_demo, w.requested_at,
		        w.completed_at, w.created_at, w.updated_at
		 FROM workflows w
		 LEFT JOIN team_members tm ON tm.team_id = w.team_id AND tm.user_id = $1 AND tm.status = 'active'
		 LEFT JOIN workflow_members wm ON wm.workflow_id = w.id AND wm.user_id = $1 AND wm.status = 'active'
		 WHERE w.user_id = $1 OR tm.id IS NOT NULL OR wm.id IS NOT NULL
		 ORDER BY w.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// ListAnalyzingWorkflowIDs returns ids of workflows left in the analyzing
// state, e.g. after a crash mid-analysis.
func (r *PostgresRepository) ListAnalyzingWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM workflows WHERE status = 'analyzing'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceSteps swaps the workflow's step set for the given batch in one
// transaction. Existing rows are removed first so a re-run of the same
// workflow never trips the (workflow_id, sequence_no) unique key.
func (r *PostgresRepository) ReplaceSteps(ctx context.Context, workflowID string, steps []*models.AnalysisStep) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM analysis_steps WHERE workflow_id = $1`, workflowID); err != nil {
		return err
	}

	for _, s := range steps {
		_, err := tx.Exec(ctx,
			`INSERT INTO analysis_steps (id, workflow_id, sequence_no, step_type, action, description,
			                             timestamp_label, timestamp_seconds, confidence, screenshot_url, user_note)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			s.ID, s.WorkflowID, s.SequenceNo, s.Type, s.Action, s.Description,
			s.TimestampLabel, s.TimestampSeconds, s.Confidence, s.ScreenshotURL, s.UserNote)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const stepColumns = `id, workflow_id, sequence_no, step_type, action, description,
	timestamp_label, timestamp_seconds, confidence, screenshot_url, user_note, created_at`

func scanStep(row pgx.Row) (*models.AnalysisStep, error) {
	var s models.AnalysisStep
	err := row.Scan(&s.ID, &s.WorkflowID, &s.SequenceNo, &s.Type, &s.Action, &s.Description,
		&s.TimestampLabel, &s.TimestampSeconds, &s.Confidence, &s.ScreenshotURL, &s.UserNote, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSteps returns a workflow's steps ordered by sequence number.
func (r *PostgresRepository) ListSteps(ctx context.Context, workflowID string) ([]*models.AnalysisStep, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+stepColumns+` FROM analysis_steps WHERE workflow_id = $1 ORDER BY sequence_no`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.AnalysisStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// CountSteps returns the number of persisted steps for a workflow.
func (r *PostgresRepository) CountSteps(ctx context.Context, workflowID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM analysis_steps WHERE workflow_id = $1`, workflowID).Scan(&count)
	return count, err
}

// GetStep retrieves a single step by its ID.
func (r *PostgresRepository) GetStep(ctx context.Context, id string) (*models.AnalysisStep, error) {
	return scanStep(r.db.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM analysis_steps WHERE id = $1`, id))
}

// UpdateStepNote sets the free-text user note on a step.
func (r *PostgresRepository) UpdateStepNote(ctx context.Context, id string, note string) error {
	_, err := r.db.Exec(ctx, `UPDATE analysis_steps SET user_note = $1 WHERE id = $2`, note, id)
	return err
}

// GetRequestCount reads the request count for (user, day). A missing row
// reads as zero.
func (r *PostgresRepository) GetRequestCount(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT request_count FROM rate_limits WHERE user_id = $1 AND request_date = $2`,
		userID, day).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementRequestCount atomically inserts or increments the (user, day)
// counter. The ON CONFLICT path rides the unique index, so concurrent calls
// never produce duplicate rows or lost updates.
func (r *PostgresRepository) IncrementRequestCount(ctx context.Context, userID string, day time.Time, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rate_limits (user_id, request_date, request_count, last_request_at)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (user_id, request_date)
		 DO UPDATE SET request_count = rate_limits.request_count + 1, last_request_at = EXCLUDED.last_request_at`,
		userID, day, now)
	return err
}

// CreateTeam inserts a new team row.
func (r *PostgresRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO teams (id, owner_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		team.ID, team.OwnerID, team.Name).Scan(&team.CreatedAt)
}

// CreateTeamMember inserts a new team membership row.
func (r *PostgresRepository) CreateTeamMember(ctx context.Context, member *models.TeamMember) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO team_members (id, team_id, user_id, role, status) VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		member.ID, member.TeamID, member.UserID, member.Role, member.Status).Scan(&member.CreatedAt)
}

// GetTeamMember returns the membership row for (team, user), or nil when
// the user is not a member of the team.
func (r *PostgresRepository) GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	var m models.TeamMember
	err := r.db.QueryRow(ctx,
		`SELECT id, team_id, user_id, role, status, created_at FROM team_members
		 WHERE team_id = $1 AND user_id = $2`, teamID, userID,
	).Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListActiveTeamMemberships returns the user's active memberships across
// all teams.
func (r *PostgresRepository) ListActiveTeamMemberships(ctx context.Context, userID string) ([]*models.TeamMember, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, team_id, user_id, role, status, created_at FROM team_members
		 WHERE user_id = $1 AND status = 'active'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.TeamMember
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// CreateWorkflowShare inserts a share row restricting a workflow to one
// team member.
func (r *PostgresRepository) CreateWorkflowShare(ctx context.Context, share *models.WorkflowShare) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO workflow_shares (id, workflow_id, team_member_id) VALUES ($1, $2, $3)
		 RETURNING created_at`,
		share.ID, share.WorkflowID, share.TeamMemberID).Scan(&share.CreatedAt)
}

// ListWorkflowShares returns any share rows scoped to the workflow.
func (r *PostgresRepository) ListWorkflowShares(ctx context.Context, workflowID string) ([]*models.WorkflowShare, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, workflow_id, team_member_id, created_at FROM workflow_shares WHERE workflow_id = $1`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*models.WorkflowShare
	for rows.Next() {
		var s models.WorkflowShare
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.TeamMemberID, &s.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, &s)
	}
	return shares, rows.Err()
}

// CreateWorkflowMember inserts a legacy per-workflow membership row.
func (r *PostgresRepository) CreateWorkflowMember(ctx context.Context, member *models.WorkflowMember) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO workflow_members (id, workflow_id, user_id, status) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		member.ID, member.WorkflowID, member.UserID, member.Status).Scan(&member.CreatedAt)
}

// GetWorkflowMember returns the legacy membership row for (workflow, user),
// or nil when none exists.
func (r *PostgresRepository) GetWorkflowMember(ctx context.Context, workflowID, userID string) (*models.WorkflowMember, error) {
	var m models.WorkflowMember
	err := r.db.QueryRow(ctx,
		`SELECT id, workflow_id, user_id, status, created_at FROM workflow_members
		 WHERE workflow_id = $1 AND user_id = $2`, workflowID, userID,
	).Scan(&m.ID, &m.WorkflowID, &m.UserID, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
