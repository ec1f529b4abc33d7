package hierarchy

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
)

// Deps are the dependencies shared by every family module.
type Deps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	CacheTTL time.Duration
	Audit    AuditRecorder
	Metrics  *Metrics
	Logger   *slog.Logger
	Guard    rbac.Middleware
}

// Module bundles the service and HTTP handler of one family.
type Module struct {
	Service *Service
	Handler *Handler
}

// ModuleOptions carries the per-family wiring.
type ModuleOptions struct {
	Family      Family
	Permissions Permissions
	// Assignments is the role join table of the family, if any.
	Assignments AssignmentStore
	OnChange    func(context.Context)
}

// NewModule wires a PostgreSQL backed family with a Redis snapshot cache.
func NewModule(d Deps, opts ModuleOptions) Module {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := NewService(ServiceConfig{
		Family:      opts.Family,
		Store:       NewPGStore(d.Pool, opts.Family),
		Assignments: opts.Assignments,
		Cache:       cache.NewVersioned(d.Redis, "tree:"+opts.Family.Name, d.CacheTTL).WithLogger(logger),
		Audit:       d.Audit,
		Metrics:     d.Metrics,
		Logger:      logger,
		OnChange:    opts.OnChange,
	})
	return Module{
		Service: svc,
		Handler: NewHandler(logger, svc, d.Guard, opts.Permissions),
	}
}
