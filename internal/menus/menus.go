// Package menus wires the navigation menu family and builds the menu tree a
// signed in user is allowed to see.
package menus

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// FamilyName identifies menus in cache keys, metrics and audit rows.
const FamilyName = "menu"

// Family describes the menus table.
func Family(newNodeEnabled bool) hierarchy.Family {
	return hierarchy.Family{
		Name:           FamilyName,
		Table:          "menus",
		Columns:        []string{"url", "icon", "component"},
		NewNodeEnabled: newNodeEnabled,
		CheckAttrs:     checkAttrs,
	}
}

func checkAttrs(attrs map[string]string) error {
	if url := attrs["url"]; url != "" && !strings.HasPrefix(url, "/") && !strings.Contains(url, "://") {
		return fmt.Errorf("url %q must be absolute or start with /", url)
	}
	return nil
}

// Permissions guards the menu management routes.
var Permissions = hierarchy.Permissions{View: shared.PermMenusView, Edit: shared.PermMenusEdit}

// Module is the menu family plus the per-user menu tree.
type Module struct {
	hierarchy.Module
	UserMenus        *UserMenus
	UserMenusHandler *UserMenusHandler
}

// New wires the menu family.
func New(d hierarchy.Deps, newNodeEnabled bool, roles RoleResolver) Module {
	grants := rbac.NewAssignmentStore(d.Pool, rbac.RoleMenus)
	m := hierarchy.NewModule(d, hierarchy.ModuleOptions{
		Family:      Family(newNodeEnabled),
		Permissions: Permissions,
		Assignments: grants,
	})
	userMenus := NewUserMenus(m.Service, roles, grants)
	return Module{
		Module:           m,
		UserMenus:        userMenus,
		UserMenusHandler: NewUserMenusHandler(d.Logger, userMenus, d.Guard),
	}
}

// RoleResolver lists the roles of a user.
type RoleResolver interface {
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
}

// MenuGrants lists the menus linked to a set of roles.
type MenuGrants interface {
	ListNodeIDsForOwners(ctx context.Context, roleIDs []int64) ([]int64, error)
}

type snapshotter interface {
	Snapshot(ctx context.Context) ([]hierarchy.Node, error)
}

// UserMenus assembles the navigation tree of a user.
type UserMenus struct {
	tree   snapshotter
	roles  RoleResolver
	grants MenuGrants
}

// NewUserMenus builds UserMenus.
func NewUserMenus(tree snapshotter, roles RoleResolver, grants MenuGrants) *UserMenus {
	return &UserMenus{tree: tree, roles: roles, grants: grants}
}

// Tree returns the enabled menus granted to userID through any of their
// roles, plus the ancestors needed to keep the tree connected. The family
// root is not included. A disabled menu hides everything below it.
func (u *UserMenus) Tree(ctx context.Context, userID int64) ([]*hierarchy.TreeNode, error) {
	roleIDs, err := u.roles.UserRoleIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("menus: roles of user %d: %w", userID, err)
	}
	if len(roleIDs) == 0 {
		return []*hierarchy.TreeNode{}, nil
	}
	granted, err := u.grants.ListNodeIDsForOwners(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("menus: grants of user %d: %w", userID, err)
	}
	nodes, err := u.tree.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	root, err := hierarchy.FindRoot(nodes)
	if err != nil {
		return nil, err
	}
	visible := VisibleMenus(nodes, granted)
	tree := hierarchy.BuildTreeWithoutRoot(visible, root.ID)
	if tree == nil {
		tree = []*hierarchy.TreeNode{}
	}
	return tree, nil
}

// VisibleMenus keeps the granted menus and their ancestors. Menus that are
// disabled, or that sit below a disabled ancestor, are dropped.
func VisibleMenus(nodes []hierarchy.Node, granted []int64) []hierarchy.Node {
	byID := make(map[int64]hierarchy.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	keep := make(map[int64]struct{}, len(granted))
	for _, id := range granted {
		n, ok := byID[id]
		if !ok || !reachable(n, byID) {
			continue
		}
		keep[n.ID] = struct{}{}
		for _, ancestor := range n.Path {
			keep[ancestor] = struct{}{}
		}
	}
	out := make([]hierarchy.Node, 0, len(keep))
	for _, n := range nodes {
		if _, ok := keep[n.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

// reachable reports whether n and every non-root ancestor are enabled.
func reachable(n hierarchy.Node, byID map[int64]hierarchy.Node) bool {
	if !n.Enabled {
		return false
	}
	for _, id := range n.Path {
		ancestor, ok := byID[id]
		if !ok {
			return false
		}
		if !ancestor.IsRoot() && !ancestor.Enabled {
			return false
		}
	}
	return true
}
