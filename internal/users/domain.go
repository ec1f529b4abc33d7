package users

import (
	"errors"
	"time"

	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// User is an account belonging to one organization.
type User struct {
	ID           int64     `json:"id"`
	OrgID        int64     `json:"orgId"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Enabled      bool      `json:"enabled"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateInput carries the fields of a new user.
type CreateInput struct {
	OrgID    int64  `json:"orgId" validate:"required,gt=0"`
	Username string `json:"username" validate:"required,alphanum,min=3,max=64"`
	Name     string `json:"name" validate:"required,max=128"`
	Email    string `json:"email" validate:"omitempty,email,max=128"`
	Phone    string `json:"phone" validate:"max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// UpdateInput carries the editable profile fields.
type UpdateInput struct {
	OrgID int64  `json:"orgId" validate:"required,gt=0"`
	Name  string `json:"name" validate:"required,max=128"`
	Email string `json:"email" validate:"omitempty,email,max=128"`
	Phone string `json:"phone" validate:"max=32"`
}

// ListFilters narrows ListUsers. OrgIDs is filled by the service from the
// requested organization subtree. Limit 0 returns every match.
type ListFilters struct {
	OrgID    int64
	OrgIDs   []int64
	NameLike string
	Enabled  *bool
	Limit    int
	Offset   int
}

// UserPage is one page of a user listing.
type UserPage struct {
	Items      []User            `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: user not found")
	// ErrDuplicateUsername indicates the username is taken.
	ErrDuplicateUsername = errors.New("users: username already in use")
	// ErrUnknownOrg indicates the organization does not exist.
	ErrUnknownOrg = errors.New("users: unknown organization")
	// ErrUnknownRole indicates a role id that does not exist.
	ErrUnknownRole = errors.New("users: unknown role")
)
