package models

import (
	"time"
)

// TeamRole represents a member's role within a team
type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

// RolePriority orders roles for team selection when a user belongs to
// several teams: owner > admin > member. Lower is higher priority.
func RolePriority(r TeamRole) int {
	switch r {
	case TeamRoleOwner:
		return 0
	case TeamRoleAdmin:
		return 1
	default:
		return 2
	}
}

// MemberStatus represents the state of a team or legacy workflow membership
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusPending  MemberStatus = "pending"
	MemberStatusInactive MemberStatus = "inactive"
)

type Team struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TeamMember struct {
	ID        string       `json:"id" db:"id"`
	TeamID    string       `json:"team_id" db:"team_id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Role      TeamRole     `json:"role" db:"role"`
	Status    MemberStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// WorkflowShare restricts a team-owned workflow to a specific team member.
// A team-owned workflow with no share rows is visible to all active members.
type WorkflowShare struct {
	ID           string    `json:"id" db:"id"`
	WorkflowID   string    `json:"workflow_id" db:"workflow_id"`
	TeamMemberID string    `json:"team_member_id" db:"team_member_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// WorkflowMember is the deprecated per-workflow sharing model that predates
// teams. Rows still exist for older workflows and keep granting access.
type WorkflowMember struct {
	ID         string       `json:"id" db:"id"`
	WorkflowID string       `json:"workflow_id" db:"workflow_id"`
	UserID     string       `json:"user_id" db:"user_id"`
	Status     MemberStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// RateLimitRecord counts analysis requests for one user on one UTC day.
// RequestDate is normalized to the day boundary; (UserID, RequestDate) is
// unique and the count only ever increments.
type RateLimitRecord struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	RequestDate   time.Time `json:"request_date" db:"request_date"`
	RequestCount  int       `json:"request_count" db:"request_count"`
	LastRequestAt time.Time `json:"last_request_at" db:"last_request_at"`
}
