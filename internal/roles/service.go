package roles

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, input RoleInput, enabled bool) (Role, error)
	UpdateRole(ctx context.Context, id int64, input RoleInput) (Role, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteRole(ctx context.Context, id int64) error
}

// PermissionInvalidator drops cached permission sets.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role business logic.
type Service struct {
	repo   RepositoryPort
	perms  PermissionInvalidator
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance. perms and audit may be nil.
func NewService(repo RepositoryPort, perms PermissionInvalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, perms: perms, audit: audit, logger: logger}
}

// ListRoles returns roles matching filters.
func (s *Service) ListRoles(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	return s.repo.ListRoles(ctx, filters)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts an enabled role.
func (s *Service) CreateRole(ctx context.Context, input RoleInput) (Role, error) {
	role, err := s.repo.CreateRole(ctx, normalize(input), true)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, "create", role.ID, map[string]any{"code": role.Code})
	return role, nil
}

// UpdateRole edits name, code, description and sort.
func (s *Service) UpdateRole(ctx context.Context, id int64, input RoleInput) (Role, error) {
	role, err := s.repo.UpdateRole(ctx, id, normalize(input))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, "update", id, map[string]any{"code": role.Code})
	return role, nil
}

// SetEnabled enables or disables a role. Disabled roles grant nothing.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, "status", id, map[string]any{"enabled": enabled})
	return nil
}

// DeleteRole removes a role and every assignment pointing at it.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, "delete", id, nil)
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
		Action:   "role." + action,
		Entity:   "role",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func normalize(input RoleInput) RoleInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Code = strings.ToLower(strings.TrimSpace(input.Code))
	input.Description = strings.TrimSpace(input.Description)
	return input
}
