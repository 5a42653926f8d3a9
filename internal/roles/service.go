package roles

import (
	"context"

	"github.com/dersa/ecoquality/internal/rbac"
)

// CatalogPort defines the role catalog and graph operations used by the handler.
type CatalogPort interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, key, displayName string, system bool) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, displayName string, active bool) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	Grant(ctx context.Context, roleID, permissionID int64) (rbac.RoleGrant, error)
	Deny(ctx context.Context, roleID, permissionID int64) (rbac.RoleGrant, error)
	Revoke(ctx context.Context, roleID, permissionID int64) error
	ListRolePermissions(ctx context.Context, roleID int64) ([]rbac.RoleGrant, error)
}

// Service handles role business logic.
type Service struct {
	catalog CatalogPort
}

// NewService builds Service instance.
func NewService(catalog CatalogPort) *Service {
	return &Service{catalog: catalog}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.catalog.ListRoles(ctx)
}

// GetRole returns a role with its edges.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.catalog.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	grants, err := s.catalog.ListRolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	if grants == nil {
		grants = []rbac.RoleGrant{}
	}
	return RoleDetail{Role: role, Permissions: grants}, nil
}

// CreateRole creates a custom role. System roles only come from the bootstrap catalog.
func (s *Service) CreateRole(ctx context.Context, key, displayName string) (rbac.Role, error) {
	return s.catalog.CreateRole(ctx, key, displayName, false)
}

// UpdateRole renames or (de)activates a role.
func (s *Service) UpdateRole(ctx context.Context, id int64, displayName string, active bool) (rbac.Role, error) {
	return s.catalog.UpdateRole(ctx, id, displayName, active)
}

// DeleteRole removes a custom role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.catalog.DeleteRole(ctx, id)
}

// SetPermission applies a grant (granted=true) or an explicit deny.
func (s *Service) SetPermission(ctx context.Context, roleID, permissionID int64, granted bool) (rbac.RoleGrant, error) {
	if granted {
		return s.catalog.Grant(ctx, roleID, permissionID)
	}
	return s.catalog.Deny(ctx, roleID, permissionID)
}

// RevokePermission removes the edge.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	return s.catalog.Revoke(ctx, roleID, permissionID)
}
