package users

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

const userColumns = `id, org_id, username, name, email, phone, enabled, password_hash, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	roles *rbac.AssignmentStore
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, roles: rbac.NewAssignmentStore(pool, rbac.UserRoles)}
}

// ListUsers returns one window of users ordered by id plus the total
// number of matches.
func (r *Repository) ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filters.OrgIDs) > 0 {
		args = append(args, filters.OrgIDs)
		where = append(where, fmt.Sprintf("org_id = ANY($%d)", len(args)))
	}
	if name := strings.TrimSpace(filters.NameLike); name != "" {
		args = append(args, db.ContainsPattern(name))
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR username ILIKE $%d)", len(args), len(args)))
	}
	if filters.Enabled != nil {
		args = append(args, *filters.Enabled)
		where = append(where, fmt.Sprintf("enabled = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users` + clause + ` ORDER BY id`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// GetUser fetches one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// CreateUser inserts a user with an already hashed password.
func (r *Repository) CreateUser(ctx context.Context, user User) (User, error) {
	return scanOne(r.pool.QueryRow(ctx, `INSERT INTO users (org_id, username, name, email, phone, enabled, password_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+userColumns,
		user.OrgID, user.Username, user.Name, user.Email, user.Phone, user.Enabled, user.PasswordHash))
}

// UpdateUser overwrites the profile fields.
func (r *Repository) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error) {
	return scanOne(r.pool.QueryRow(ctx, `UPDATE users SET org_id = $1, name = $2, email = $3, phone = $4, updated_at = NOW()
WHERE id = $5 RETURNING `+userColumns,
		input.OrgID, input.Name, input.Email, input.Phone, id))
}

// SetEnabled flips the enabled flag.
func (r *Repository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.exec(ctx, `UPDATE users SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
}

// SetPasswordHash stores a new password hash.
func (r *Repository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
}

// RoleIDs lists the roles of a user.
func (r *Repository) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.roles.ListNodeIDs(ctx, userID)
}

// ReplaceRoles swaps the role set of a user in one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	err := r.roles.ReplaceNodeIDs(ctx, userID, roleIDs)
	if db.IsForeignKeyViolation(err) {
		return ErrUnknownRole
	}
	return err
}

func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOne(row pgx.Row) (User, error) {
	user, err := scanUser(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return User{}, ErrNotFound
	case db.IsUniqueViolation(err):
		return User{}, ErrDuplicateUsername
	case db.IsForeignKeyViolation(err):
		return User{}, ErrUnknownOrg
	}
	return user, err
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrgID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.Enabled, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
