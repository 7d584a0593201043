// Package access provides role resolution and authority checks over
// schedules: who may see an entry, who may decide a change to it.
package access

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

// MembershipRepository reads team membership and blocklist rows.
type MembershipRepository interface {
	GetMemberRole(ctx context.Context, teamID, userID int64) (models.Role, bool, error)
	IsBlocked(ctx context.Context, userID int64) (bool, error)
}

// Service implements the coordinator's AccessControl interface.
type Service struct {
	members MembershipRepository
	logger  zerolog.Logger
}

// NewService creates a new access control service.
func NewService(members MembershipRepository, logger zerolog.Logger) *Service {
	return &Service{
		members: members,
		logger:  logger.With().Str("component", "access").Logger(),
	}
}

// ResolveMembership returns the user's role in the team, or ErrForbidden
// when no membership exists.
func (s *Service) ResolveMembership(ctx context.Context, userID, teamID int64) (models.Role, error) {
	role, found, err := s.members.GetMemberRole(ctx, teamID, userID)
	if err != nil {
		return "", fmt.Errorf("resolve membership: %w", err)
	}
	if !found {
		return "", negotiation.ErrForbidden
	}
	return role, nil
}

// CanView reports whether the user may see the schedule: the creator for
// personal entries, any team member for team entries. Blocked users see
// nothing.
func (s *Service) CanView(ctx context.Context, userID int64, sched *models.Schedule) (bool, error) {
	blocked, err := s.members.IsBlocked(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check blocklist: %w", err)
	}
	if blocked {
		return false, nil
	}

	if sched.IsTeam() {
		_, found, err := s.members.GetMemberRole(ctx, *sched.TeamID, userID)
		if err != nil {
			return false, fmt.Errorf("check membership: %w", err)
		}
		return found, nil
	}
	return sched.CreatorID == userID, nil
}

// CanEdit reports whether the user may change the schedule or decide a
// change request against it: the creator, or a team leader for team
// entries.
func (s *Service) CanEdit(ctx context.Context, userID int64, sched *models.Schedule) (bool, error) {
	blocked, err := s.members.IsBlocked(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check blocklist: %w", err)
	}
	if blocked {
		return false, nil
	}

	if sched.CreatorID == userID {
		return true, nil
	}
	if sched.IsTeam() {
		role, found, err := s.members.GetMemberRole(ctx, *sched.TeamID, userID)
		if err != nil {
			return false, fmt.Errorf("check membership: %w", err)
		}
		return found && role == models.RoleLeader, nil
	}
	return false, nil
}

// Middleware rejects blocked users before a request is handled.
func (s *Service) Middleware(ctx context.Context, userID int64) error {
	blocked, err := s.members.IsBlocked(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking access: %w", err)
	}
	if blocked {
		s.logger.Info().Int64("user_id", userID).Msg("blocked user rejected")
		return negotiation.ErrForbidden
	}
	return nil
}
