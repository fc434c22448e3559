package services

import (
	"context"

	"synchro/backend/internal/repository"
	"synchro/backend/pkg/models"
)

// accessDecision is the outcome of one access check in the resolver chain.
type accessDecision int

const (
	decisionNotApplicable accessDecision = iota
	decisionAllow
	decisionDeny
)

type accessCheck func(ctx context.Context, workflow *models.Workflow, userID string) (accessDecision, error)

// AccessResolver decides read access to a workflow. It evaluates an
// ordered chain of independent checks, first conclusive answer wins:
//
//  1. ownership
//  2. team membership, narrowed by share rows when present
//  3. legacy per-workflow membership (predates the team model; rows for
//     older workflows must keep granting access)
//
// Anything the chain does not allow is denied.
type AccessResolver struct {
	repo repository.Repository
}

// NewAccessResolver creates a new AccessResolver.
func NewAccessResolver(repo repository.Repository) *AccessResolver {
	return &AccessResolver{repo: repo}
}

// CanRead reports whether the user may read the workflow and its steps.
func (a *AccessResolver) CanRead(ctx context.Context, workflow *models.Workflow, userID string) (bool, error) {
	checks := []accessCheck{
		a.ownerCheck,
		a.teamShareCheck,
		a.legacyMemberCheck,
	}

	for _, check := range checks {
		decision, err := check(ctx, workflow, userID)
		if err != nil {
			return false, err
		}
		switch decision {
		case decisionAllow:
			return true, nil
		case decisionDeny:
			return false, nil
		}
	}
	return false, nil
}

func (a *AccessResolver) ownerCheck(ctx context.Context, workflow *models.Workflow, userID string) (accessDecision, error) {
	if workflow.UserID == userID {
		return decisionAllow, nil
	}
	return decisionNotApplicable, nil
}

// teamShareCheck is conclusive for any team-owned workflow: non-members
// are denied outright, active members see the workflow unless share rows
// exist and none names them.
func (a *AccessResolver) teamShareCheck(ctx context.Context, workflow *models.Workflow, userID string) (accessDecision, error) {
	if workflow.TeamID == nil {
		return decisionNotApplicable, nil
	}

	member, err := a.repo.GetTeamMember(ctx, *workflow.TeamID, userID)
	if err != nil {
		return decisionNotApplicable, err
	}
	if member == nil || member.Status != models.MemberStatusActive {
		return decisionDeny, nil
	}

	shares, err := a.repo.ListWorkflowShares(ctx, workflow.ID)
	if err != nil {
		return decisionNotApplicable, err
	}
	if len(shares) == 0 {
		// no share rows means team-wide visibility
		return decisionAllow, nil
	}
	for _, share := range shares {
		if share.TeamMemberID == member.ID {
			return decisionAllow, nil
		}
	}
	return decisionDeny, nil
}

func (a *AccessResolver) legacyMemberCheck(ctx context.Context, workflow *models.Workflow, userID string) (accessDecision, error) {
	member, err := a.repo.GetWorkflowMember(ctx, workflow.ID, userID)
	if err != nil {
		return decisionNotApplicable, err
	}
	if member != nil && member.Status == models.MemberStatusActive {
		return decisionAllow, nil
	}
	return decisionNotApplicable, nil
}
