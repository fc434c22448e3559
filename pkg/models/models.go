// Package models defines the domain models for the Synchro analysis service
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow document
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusAnalyzing WorkflowStatus = "analyzing"
	WorkflowStatusAnalyzed  WorkflowStatus = "analyzed"
)

// VideoStatus mirrors the workflow lifecycle on the uploaded video row
type VideoStatus string

const (
	VideoStatusIdle       VideoStatus = "idle"
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusError      VideoStatus = "error"
)

// StepType classifies one inferred user action
type StepType string

const (
	StepTypeClick    StepType = "click"
	StepTypeInput    StepType = "input"
	StepTypeNavigate StepType = "navigate"
	StepTypeWait     StepType = "wait"
	StepTypeDecision StepType = "decision"
)

// ValidStepType reports whether t is one of the known step types.
func ValidStepType(t StepType) bool {
	switch t {
	case StepTypeClick, StepTypeInput, StepTypeNavigate, StepTypeWait, StepTypeDecision:
		return true
	}
	return false
}

// Workflow represents the analyzed output document of one screen recording.
// A workflow is personal when TeamID is nil, team-visible otherwise;
// team visibility may be narrowed further by WorkflowShare rows.
type Workflow struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	TeamID       *string        `json:"team_id,omitempty" db:"team_id"`
	VideoID      string         `json:"video_id" db:"video_id"`
	Title        string         `json:"title" db:"title"`
	Description  string         `json:"description" db:"description"`
	DurationSecs float64        `json:"duration_seconds" db:"duration_seconds"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	Status       WorkflowStatus `json:"status" db:"status"`
	IsDemo       bool           `json:"is_demo" db:"is_demo"`
	RequestedAt  time.Time      `json:"requested_at" db:"requested_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Video represents one uploaded screen recording held in object storage.
type Video struct {
	ID         string      `json:"id" db:"id"`
	UserID     string      `json:"user_id" db:"user_id"`
	Filename   string      `json:"filename" db:"filename"`
	ObjectPath string      `json:"object_path" db:"object_path"`
	Status     VideoStatus `json:"status" db:"status"`
	Progress   int         `json:"progress" db:"progress"`
	Message    string      `json:"message,omitempty" db:"message"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// AnalysisStep is one inferred action within a workflow. SequenceNo values
// are dense and 1-based within their workflow.
type AnalysisStep struct {
	ID               string   `json:"id" db:"id"`
	WorkflowID       string   `json:"workflow_id" db:"workflow_id"`
	SequenceNo       int      `json:"sequence_no" db:"sequence_no"`
	Type             StepType `json:"type" db:"step_type"`
	Action           string   `json:"action" db:"action"`
	Description      string   `json:"description" db:"description"`
	TimestampLabel   *string  `json:"timestamp_label,omitempty" db:"timestamp_label"`
	TimestampSeconds *float64 `json:"timestamp_seconds,omitempty" db:"timestamp_seconds"`
	Confidence       int      `json:"confidence" db:"confidence"`
	ScreenshotURL    string   `json:"screenshot_url,omitempty" db:"screenshot_url"`
	UserNote         *string  `json:"user_note,omitempty" db:"user_note"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// InferredStep is the wire shape returned by the vision model before the
// orchestrator assigns sequence numbers and screenshots.
type InferredStep struct {
	Type        StepType `json:"type"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
	Confidence  int      `json:"confidence"`
}
