// Package apis wires the api permission family. The code of an enabled api
// record is the permission string checked by rbac.
package apis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// FamilyName identifies api records in cache keys, metrics and audit rows.
const FamilyName = "api"

// Family describes the apis table.
func Family(newNodeEnabled bool) hierarchy.Family {
	return hierarchy.Family{
		Name:           FamilyName,
		Table:          "apis",
		Columns:        []string{"code", "url", "method"},
		NewNodeEnabled: newNodeEnabled,
		CheckAttrs:     checkAttrs,
	}
}

var validate = validator.New()

func checkAttrs(attrs map[string]string) error {
	code := attrs["code"]
	if err := validate.Var(code, "omitempty,lowercase,max=64"); err != nil || strings.ContainsAny(code, " \t") {
		return fmt.Errorf("code %q must be lower case without spaces", code)
	}
	if err := validate.Var(attrs["method"], "omitempty,oneof=GET POST PUT PATCH DELETE *"); err != nil {
		return fmt.Errorf("unsupported method %q", attrs["method"])
	}
	return nil
}

// Permissions guards the api management routes.
var Permissions = hierarchy.Permissions{View: shared.PermApisView, Edit: shared.PermApisEdit}

// New wires the api family. invalidate runs after every change so cached
// permission sets never outlive the records they were derived from.
func New(d hierarchy.Deps, newNodeEnabled bool, invalidate func(context.Context)) hierarchy.Module {
	return hierarchy.NewModule(d, hierarchy.ModuleOptions{
		Family:      Family(newNodeEnabled),
		Permissions: Permissions,
		Assignments: rbac.NewAssignmentStore(d.Pool, rbac.RoleApis),
		OnChange:    invalidate,
	})
}
