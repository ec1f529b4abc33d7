package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jinjupeng/item-apiserver/internal/apis"
	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/internal/menus"
	"github.com/jinjupeng/item-apiserver/internal/observability"
	"github.com/jinjupeng/item-apiserver/internal/organizations"
	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/roles"
	"github.com/jinjupeng/item-apiserver/internal/shared"
	"github.com/jinjupeng/item-apiserver/internal/users"
	"github.com/jinjupeng/item-apiserver/jobs"
)

// Modules holds every wired domain module.
type Modules struct {
	RBAC  *rbac.Service
	Guard rbac.Middleware
	Orgs  organizations.Module
	Menus menus.Module
	Apis  hierarchy.Module

	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
}

// ModuleParams carries the infrastructure shared by the modules.
type ModuleParams struct {
	Config  *Config
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewModules wires the three tree families, roles, users and RBAC.
func NewModules(p ModuleParams) Modules {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = &Config{}
	}

	rbacService := rbac.NewService(p.Pool, cache.NewVersioned(p.Redis, "perms", cfg.PermCacheTTL).WithLogger(logger), logger)
	guard := rbac.Middleware{Permissions: rbacService, Logger: logger}
	audit := shared.NewAuditLogger(p.Pool)
	var registerer prometheus.Registerer
	if p.Metrics != nil {
		registerer = p.Metrics.Registerer()
	}

	deps := hierarchy.Deps{
		Pool:     p.Pool,
		Redis:    p.Redis,
		CacheTTL: cfg.TreeCacheTTL,
		Audit:    audit,
		Metrics:  hierarchy.NewMetrics(registerer),
		Logger:   logger,
		Guard:    guard,
	}
	orgs := organizations.New(deps, cfg.OrgNewEnabled)
	menuModule := menus.New(deps, cfg.MenuNewEnabled, rbacService)
	apiModule := apis.New(deps, cfg.APINewEnabled, rbacService.Invalidate)

	roleService := roles.NewService(roles.NewRepository(p.Pool), rbacService, audit, logger)
	userService := users.NewService(users.NewRepository(p.Pool), orgs.Scope, rbacService, audit, logger)

	return Modules{
		RBAC:               rbacService,
		Guard:              guard,
		Orgs:               orgs,
		Menus:              menuModule,
		Apis:               apiModule,
		RolesHandler:       roles.NewHandler(logger, roleService, guard),
		UsersHandler:       users.NewHandler(logger, userService, guard),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, guard),
	}
}

// IntegrityCheckers maps every family name to its service.
func (m Modules) IntegrityCheckers() map[string]jobs.IntegrityChecker {
	return map[string]jobs.IntegrityChecker{
		organizations.FamilyName: m.Orgs.Service,
		menus.FamilyName:         m.Menus.Service,
		apis.FamilyName:          m.Apis.Service,
	}
}
