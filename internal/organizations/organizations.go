// Package organizations wires the organization family: the company, its
// departments and teams.
package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// FamilyName identifies organizations in cache keys, metrics and audit rows.
const FamilyName = "org"

// Family describes the organizations table.
func Family(newNodeEnabled bool) hierarchy.Family {
	return hierarchy.Family{
		Name:           FamilyName,
		Table:          "organizations",
		Columns:        []string{"code", "address", "phone", "email"},
		NewNodeEnabled: newNodeEnabled,
		CheckAttrs:     checkAttrs,
	}
}

var validate = validator.New()

func checkAttrs(attrs map[string]string) error {
	if err := validate.Var(attrs["email"], "omitempty,email,max=128"); err != nil {
		return fmt.Errorf("invalid email %q", attrs["email"])
	}
	if err := validate.Var(attrs["phone"], "omitempty,max=32"); err != nil {
		return errors.New("phone too long")
	}
	return nil
}

// Permissions guards the organization routes.
var Permissions = hierarchy.Permissions{View: shared.PermOrgsView, Edit: shared.PermOrgsEdit}

// Module is the organization family plus the subtree scope used by users.
type Module struct {
	hierarchy.Module
	Scope *Scope
}

// New wires the organization family.
func New(d hierarchy.Deps, newNodeEnabled bool) Module {
	m := hierarchy.NewModule(d, hierarchy.ModuleOptions{
		Family:      Family(newNodeEnabled),
		Permissions: Permissions,
		Assignments: rbac.NewAssignmentStore(d.Pool, rbac.RoleOrgs),
	})
	return Module{Module: m, Scope: NewScope(m.Service)}
}

type subtreeReader interface {
	Subtree(ctx context.Context, id int64) ([]hierarchy.Node, error)
}

// Scope resolves organization subtrees with the store's ancestor path query.
type Scope struct {
	tree subtreeReader
}

// NewScope builds a Scope.
func NewScope(tree subtreeReader) *Scope {
	return &Scope{tree: tree}
}

// SubtreeIDs returns orgID and the ids of every organization below it.
func (s *Scope) SubtreeIDs(ctx context.Context, orgID int64) ([]int64, error) {
	nodes, err := s.tree.Subtree(ctx, orgID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrNotFound) {
			return nil, fmt.Errorf("%w: organization %d", hierarchy.ErrNotFound, orgID)
		}
		return nil, err
	}
	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// Exists reports whether orgID is a known organization.
func (s *Scope) Exists(ctx context.Context, orgID int64) (bool, error) {
	_, err := s.SubtreeIDs(ctx, orgID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, hierarchy.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
