package users

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error
}

// OrgScope resolves organization subtrees.
type OrgScope interface {
	SubtreeIDs(ctx context.Context, orgID int64) ([]int64, error)
	Exists(ctx context.Context, orgID int64) (bool, error)
}

// PermissionInvalidator drops cached permission sets.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo       RepositoryPort
	orgs       OrgScope
	perms      PermissionInvalidator
	audit      AuditRecorder
	logger     *slog.Logger
	bcryptCost int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, orgs OrgScope, perms PermissionInvalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, orgs: orgs, perms: perms, audit: audit, logger: logger, bcryptCost: bcrypt.DefaultCost}
}

// ListUsers returns one page of users. A non-zero OrgID limits the result
// to that organization and everything below it.
func (s *Service) ListUsers(ctx context.Context, filters ListFilters, page, perPage int) (UserPage, error) {
	if filters.OrgID > 0 {
		if err := s.requireOrg(ctx, filters.OrgID); err != nil {
			return UserPage{}, err
		}
		ids, err := s.orgs.SubtreeIDs(ctx, filters.OrgID)
		if err != nil {
			return UserPage{}, err
		}
		filters.OrgIDs = ids
	}
	window := shared.NewPagination(page, perPage, 0)
	filters.Limit = window.PerPage
	filters.Offset = window.Offset()
	users, total, err := s.repo.ListUsers(ctx, filters)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Items: users, Pagination: shared.NewPagination(window.Page, window.PerPage, total)}, nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser stores an enabled user with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (User, error) {
	if err := s.requireOrg(ctx, input.OrgID); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, User{
		OrgID:        input.OrgID,
		Username:     strings.ToLower(strings.TrimSpace(input.Username)),
		Name:         strings.TrimSpace(input.Name),
		Email:        strings.TrimSpace(input.Email),
		Phone:        strings.TrimSpace(input.Phone),
		Enabled:      true,
		PasswordHash: string(hash),
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, "create", user.ID, map[string]any{"org_id": user.OrgID, "username": user.Username})
	return user, nil
}

// UpdateUser edits the profile of a user.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error) {
	if err := s.requireOrg(ctx, input.OrgID); err != nil {
		return User{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	user, err := s.repo.UpdateUser(ctx, id, input)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, "update", id, map[string]any{"org_id": input.OrgID})
	return user, nil
}

// SetEnabled enables or disables a user. Disabled users hold no permissions.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, "status", id, map[string]any{"enabled": enabled})
	return nil
}

// ResetPassword replaces the password hash of a user.
func (s *Service) ResetPassword(ctx context.Context, id int64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	if err := s.repo.SetPasswordHash(ctx, id, string(hash)); err != nil {
		return err
	}
	s.record(ctx, "password", id, nil)
	return nil
}

// RoleIDs returns the roles of a user, ascending.
func (s *Service) RoleIDs(ctx context.Context, id int64) ([]int64, error) {
	if _, err := s.repo.GetUser(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.repo.RoleIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// ReplaceRoles swaps the role set of a user.
func (s *Service) ReplaceRoles(ctx context.Context, id int64, roleIDs []int64) error {
	if _, err := s.repo.GetUser(ctx, id); err != nil {
		return err
	}
	roleIDs = uniqueIDs(roleIDs)
	if err := s.repo.ReplaceRoles(ctx, id, roleIDs); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, "roles", id, map[string]any{"role_ids": roleIDs})
	return nil
}

func (s *Service) requireOrg(ctx context.Context, orgID int64) error {
	ok, err := s.orgs.Exists(ctx, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrg, orgID)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.perms != nil {
		s.perms.Invalidate(ctx)
	}
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   "user." + action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
