package rbac

import "time"

// Module is a functional area of the application (production, quality, ...).
type Module struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission represents an atomic capability owned by exactly one module.
type Permission struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	ModuleID    int64     `json:"module_id"`
	ModuleKey   string    `json:"module_key"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role represents a named bundle of grants and denies.
type Role struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	IsSystem    bool      `json:"is_system"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleGrant ties a permission to a role. Granted=false is an explicit deny.
type RoleGrant struct {
	RoleID        int64     `json:"role_id"`
	PermissionID  int64     `json:"permission_id"`
	PermissionKey string    `json:"permission_key"`
	Granted       bool      `json:"granted"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserRole links a principal to a role.
type UserRole struct {
	PrincipalID int64     `json:"principal_id"`
	RoleID      int64     `json:"role_id"`
	RoleKey     string    `json:"role_key"`
	AssignedBy  int64     `json:"assigned_by"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// EdgeRow is one role→permission edge reachable from a principal, as read
// by the engine. Only active roles, permissions and modules are returned.
type EdgeRow struct {
	RoleKey       string
	PermissionKey string
	Granted       bool
}

// Principal describes the authenticated actor once authorized.
type Principal struct {
	ID    int64
	Roles []string
}
