package roles

import (
	"errors"
	"time"
)

// Role groups menus, api permissions and organizations granted to users.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Sort        int       `json:"sort"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RoleInput carries the editable fields of a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Code        string `json:"code" validate:"required,max=64,lowercase"`
	Description string `json:"description" validate:"max=255"`
	Sort        int    `json:"sort" validate:"gte=0"`
}

// RoleListFilters narrows ListRoles.
type RoleListFilters struct {
	NameLike string
	Enabled  *bool
}

var (
	// ErrNotFound indicates the role does not exist.
	ErrNotFound = errors.New("roles: role not found")
	// ErrDuplicateCode indicates another role already uses the code.
	ErrDuplicateCode = errors.New("roles: code already in use")
)
