package roles

import "github.com/dersa/ecoquality/internal/rbac"

// RoleDetail is a role together with its grant and deny edges.
type RoleDetail struct {
	rbac.Role
	Permissions []rbac.RoleGrant `json:"permissions"`
}

type createRoleRequest struct {
	Key         string `json:"key" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

type updateRoleRequest struct {
	DisplayName string `json:"display_name" validate:"max=128"`
	Active      *bool  `json:"active" validate:"required"`
}
