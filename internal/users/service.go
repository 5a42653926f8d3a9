package users

import (
	"context"

	"github.com/dersa/ecoquality/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// AccessPort is the slice of the RBAC service used for assignments.
type AccessPort interface {
	AssignRole(ctx context.Context, principalID, roleID, assignedBy int64) error
	UnassignRole(ctx context.Context, principalID, roleID int64) error
	ListUserRoles(ctx context.Context, principalID int64) ([]rbac.UserRole, error)
	EffectivePermissions(ctx context.Context, principalID int64) (rbac.EffectiveSet, error)
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	access AccessPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, access AccessPort) *Service {
	return &Service{repo: repo, access: access}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Access returns the roles and the effective permission set of a user.
func (s *Service) Access(ctx context.Context, id int64) (Access, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return Access{}, err
	}
	roles, err := s.access.ListUserRoles(ctx, id)
	if err != nil {
		return Access{}, err
	}
	set, err := s.access.EffectivePermissions(ctx, id)
	if err != nil {
		return Access{}, err
	}
	out := Access{User: u, Roles: roles, Permissions: set.Granted, Denied: set.Denied}
	if out.Roles == nil {
		out.Roles = []rbac.UserRole{}
	}
	if out.Permissions == nil {
		out.Permissions = []string{}
	}
	if out.Denied == nil {
		out.Denied = []string{}
	}
	return out, nil
}

// AssignRole gives the user a role. Assigning a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, assignedBy int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.access.AssignRole(ctx, userID, roleID, assignedBy)
}

// UnassignRole removes a role from the user.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.access.UnassignRole(ctx, userID, roleID)
}
