package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/internal/menus"
	"github.com/jinjupeng/item-apiserver/internal/observability"
	"github.com/jinjupeng/item-apiserver/internal/platform/httpx"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/roles"
	"github.com/jinjupeng/item-apiserver/internal/users"
	"github.com/jinjupeng/item-apiserver/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	OrgsHandler        *hierarchy.Handler
	MenusHandler       *hierarchy.Handler
	ApisHandler        *hierarchy.Handler
	UserMenusHandler   *menus.UserMenusHandler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// RouterParamsFromModules fills the handler fields from wired modules.
func RouterParamsFromModules(m Modules) RouterParams {
	return RouterParams{
		OrgsHandler:        m.Orgs.Handler,
		MenusHandler:       m.Menus.Handler,
		ApisHandler:        m.Apis.Handler,
		UserMenusHandler:   m.Menus.UserMenusHandler,
		RolesHandler:       m.RolesHandler,
		UsersHandler:       m.UsersHandler,
		PermissionsHandler: m.PermissionsHandler,
	}
}

type mounter interface {
	MountRoutes(r chi.Router)
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	routes := []struct {
		pattern string
		handler mounter
	}{
		{"/orgs", params.OrgsHandler},
		{"/menus", params.MenusHandler},
		{"/apis", params.ApisHandler},
		{"/roles", params.RolesHandler},
		{"/users", params.UsersHandler},
		{"/me/menus", params.UserMenusHandler},
		{"/me/permissions", params.PermissionsHandler},
		{"/jobs", params.JobHandler},
	}
	for _, route := range routes {
		if isNil(route.handler) {
			continue
		}
		r.Route(route.pattern, route.handler.MountRoutes)
	}

	return r
}

func isNil(m mounter) bool {
	switch h := m.(type) {
	case nil:
		return true
	case *hierarchy.Handler:
		return h == nil
	case *menus.UserMenusHandler:
		return h == nil
	case *roles.Handler:
		return h == nil
	case *users.Handler:
		return h == nil
	case *rbac.PermissionsHandler:
		return h == nil
	case *jobs.Handler:
		return h == nil
	}
	return false
}
