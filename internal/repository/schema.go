package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the bootstrap DDL. The unique index on rate_limits
// (user_id, request_date) is load-bearing: concurrent increments for the
// same user and day serialize through it.
const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	object_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	progress INT NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS teams (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS team_members (
	id UUID PRIMARY KEY,
	team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	team_id UUID REFERENCES teams(id),
	video_id UUID NOT NULL REFERENCES videos(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	thumbnail_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	is_demo BOOLEAN NOT NULL DEFAULT false,
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_steps (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	sequence_no INT NOT NULL,
	step_type TEXT NOT NULL,
	action TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	timestamp_label TEXT,
	timestamp_seconds DOUBLE PRECISION,
	confidence INT NOT NULL DEFAULT 0,
	screenshot_url TEXT NOT NULL DEFAULT '',
	user_note TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, sequence_no)
);

CREATE TABLE IF NOT EXISTS workflow_shares (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	team_member_id UUID NOT NULL REFERENCES team_members(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, team_member_id)
);

CREATE TABLE IF NOT EXISTS workflow_members (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_id, user_id)
);

CREATE TABLE IF NOT EXISTS rate_limits (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id TEXT NOT NULL,
	request_date DATE NOT NULL,
	request_count INT NOT NULL DEFAULT 0,
	last_request_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, request_date)
);
`

// Migrate applies the bootstrap schema. Statements are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
