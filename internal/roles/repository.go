package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinjupeng/item-apiserver/internal/platform/db"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
)

const roleColumns = `id, name, code, description, sort, enabled, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	links []*rbac.AssignmentStore
	users *rbac.AssignmentStore
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
		links: []*rbac.AssignmentStore{
			rbac.NewAssignmentStore(pool, rbac.RoleMenus),
			rbac.NewAssignmentStore(pool, rbac.RoleApis),
			rbac.NewAssignmentStore(pool, rbac.RoleOrgs),
		},
		users: rbac.NewAssignmentStore(pool, rbac.UserRoles),
	}
}

// ListRoles returns roles ordered by sort then id.
func (r *Repository) ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	var (
		where []string
		args  []interface{}
	)
	if name := strings.TrimSpace(filters.NameLike); name != "" {
		args = append(args, db.ContainsPattern(name))
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filters.Enabled != nil {
		args = append(args, *filters.Enabled)
		where = append(where, fmt.Sprintf("enabled = $%d", len(args)))
	}
	query := `SELECT ` + roleColumns + ` FROM roles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sort, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches one role.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanOne(row)
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, input RoleInput, enabled bool) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO roles (name, code, description, sort, enabled)
VALUES ($1, $2, $3, $4, $5) RETURNING `+roleColumns,
		input.Name, input.Code, input.Description, input.Sort, enabled)
	return scanOne(row)
}

// UpdateRole overwrites the editable fields of a role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, input RoleInput) (Role, error) {
	row := r.pool.QueryRow(ctx, `UPDATE roles SET name = $1, code = $2, description = $3, sort = $4, updated_at = NOW()
WHERE id = $5 RETURNING `+roleColumns,
		input.Name, input.Code, input.Description, input.Sort, id)
	return scanOne(row)
}

// SetEnabled flips the enabled flag of a role.
func (r *Repository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role together with its menu, api, organization and
// user links in one transaction.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, link := range r.links {
			if err := link.DeleteOwner(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := r.users.DeleteNode(ctx, tx, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanOne(row pgx.Row) (Role, error) {
	role, err := scanRole(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Role{}, ErrNotFound
	case db.IsUniqueViolation(err):
		return Role{}, ErrDuplicateCode
	}
	return role, err
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Code, &role.Description, &role.Sort, &role.Enabled, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}
