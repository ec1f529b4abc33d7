package shared

// Permission codes. They match the code column of api records linked to a
// role through role_apis.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermOrgsView = "orgs.view"
	PermOrgsEdit = "orgs.edit"

	PermMenusView = "menus.view"
	PermMenusEdit = "menus.edit"

	PermApisView = "apis.view"
	PermApisEdit = "apis.edit"

	PermJobsView = "jobs.view"
	PermJobsRun  = "jobs.run"
)

// CoreScopes lists every permission code known to the server.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermOrgsView,
		PermOrgsEdit,
		PermMenusView,
		PermMenusEdit,
		PermApisView,
		PermApisEdit,
		PermJobsView,
		PermJobsRun,
	}
}
