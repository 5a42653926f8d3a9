package shared

// Core platform permissions, owned by the admin module.
const (
	PermUsersView   = "admin.users.view"
	PermUsersAssign = "admin.users.assign"

	PermRolesView   = "admin.roles.view"
	PermRolesManage = "admin.roles.manage"

	PermPermissionsView   = "admin.permissions.view"
	PermPermissionsManage = "admin.permissions.manage"

	PermModulesView   = "admin.modules.view"
	PermModulesManage = "admin.modules.manage"

	PermAuditView = "admin.audit.view"
	PermJobsView  = "admin.jobs.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersAssign,
		PermRolesView,
		PermRolesManage,
		PermPermissionsView,
		PermPermissionsManage,
		PermModulesView,
		PermModulesManage,
		PermAuditView,
		PermJobsView,
	}
}
