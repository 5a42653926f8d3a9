package rbac

import "context"

// Store persists the permission graph. Every mutation touches a single
// row (or a single cascading statement) and is atomic.
type Store interface {
	CreateModule(ctx context.Context, key, displayName string) (Module, error)
	GetModule(ctx context.Context, id int64) (Module, error)
	ListModules(ctx context.Context) ([]Module, error)
	SetModuleActive(ctx context.Context, id int64, active bool) (Module, error)
	DeleteModule(ctx context.Context, id int64) error

	CreatePermission(ctx context.Context, key, displayName string, moduleID int64) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByKey(ctx context.Context, key string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetPermissionActive(ctx context.Context, id int64, active bool) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	CreateRole(ctx context.Context, key, displayName string, system bool) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByKey(ctx context.Context, key string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id int64, displayName string, active bool) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	UpsertGrant(ctx context.Context, roleID, permissionID int64, granted bool) (RoleGrant, error)
	DeleteGrant(ctx context.Context, roleID, permissionID int64) error
	ListGrants(ctx context.Context, roleID int64) ([]RoleGrant, error)

	AssignRole(ctx context.Context, principalID, roleID, assignedBy int64) (bool, error)
	UnassignRole(ctx context.Context, principalID, roleID int64) error
	ListUserRoles(ctx context.Context, principalID int64) ([]UserRole, error)

	// PrincipalEdges returns the active role keys held by the principal and
	// every active grant/deny edge reachable from them.
	PrincipalEdges(ctx context.Context, principalID int64) ([]string, []EdgeRow, error)
}
