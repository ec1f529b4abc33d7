package rbac

import "context"

// DefaultUserHeader carries the authenticated user id set by the gateway.
const DefaultUserHeader = "X-User-ID"

// PermissionSource resolves the permission codes granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Join tables linking roles and users to tree families.
var (
	RoleMenus = JoinTable{Table: "role_menus", OwnerColumn: "role_id", NodeColumn: "menu_id"}
	RoleApis  = JoinTable{Table: "role_apis", OwnerColumn: "role_id", NodeColumn: "api_id"}
	RoleOrgs  = JoinTable{Table: "role_orgs", OwnerColumn: "role_id", NodeColumn: "org_id"}
	UserRoles = JoinTable{Table: "user_roles", OwnerColumn: "user_id", NodeColumn: "role_id"}
)

// JoinTable describes a two column assignment table.
type JoinTable struct {
	Table       string
	OwnerColumn string
	NodeColumn  string
}
