package rbac

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
)

const effectivePermissionsSQL = `SELECT DISTINCT a.code
FROM user_roles ur
JOIN users u ON u.id = ur.user_id AND u.enabled
JOIN roles r ON r.id = ur.role_id AND r.enabled
JOIN role_apis ra ON ra.role_id = ur.role_id
JOIN apis a ON a.id = ra.api_id
WHERE ur.user_id = $1 AND a.enabled AND a.code <> ''
ORDER BY a.code`

// Service resolves what a user may do.
type Service struct {
	db        DBTX
	userRoles *AssignmentStore
	cache     *cache.Versioned
	logger    *slog.Logger
}

// NewService constructs a Service backed by the provided pool. permCache may
// be nil.
func NewService(pool *pgxpool.Pool, permCache *cache.Versioned, logger *slog.Logger) *Service {
	return newService(pool, NewAssignmentStore(pool, UserRoles), permCache, logger)
}

func newService(conn DBTX, userRoles *AssignmentStore, permCache *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: conn, userRoles: userRoles, cache: permCache, logger: logger}
}

// EffectivePermissions returns the deduplicated permission codes of a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if s.cache == nil {
		return s.loadPermissions(ctx, userID)
	}
	key, err := s.cache.Key(ctx, "perms", strconv.FormatInt(userID, 10))
	if err != nil {
		s.logger.Warn("rbac cache key", slog.Any("error", err))
		return s.loadPermissions(ctx, userID)
	}
	var perms []string
	err = s.cache.FetchJSON(ctx, key, &perms, func(ctx context.Context) (interface{}, error) {
		loaded, err := s.loadPermissions(ctx, userID)
		if loaded == nil {
			loaded = []string{}
		}
		return loaded, err
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// UserRoleIDs returns the roles assigned to a user.
func (s *Service) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.userRoles.ListNodeIDs(ctx, userID)
}

// Invalidate drops every cached permission set.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rbac cache bump", slog.Any("error", err))
	}
}

func (s *Service) loadPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, effectivePermissionsSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		perms = append(perms, code)
	}
	return perms, rows.Err()
}
