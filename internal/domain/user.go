// Package domain contains the records exchanged with the Rebelz platform API.
package domain

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// User is the current-user profile returned by the platform. The client only
// ever reads it; a refresh replaces the whole value.
type User struct {
	ID             int64    `json:"id"`
	Email          string   `json:"email"`
	FullName       *string  `json:"full_name,omitempty"`
	ProfilePicture *string  `json:"profile_picture,omitempty"`
	IsActive       bool     `json:"is_active"`
	Roles          []string `json:"roles"`
}

// DisplayName returns the full name when set, otherwise the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != nil && strings.TrimSpace(*u.FullName) != "" {
		return *u.FullName
	}
	return u.Email
}

// HasRole reports whether name appears verbatim in the role list.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, name)
}

// Fingerprint identifies the user and role set. Two users with the same
// fingerprint grant the same permissions.
func (u *User) Fingerprint() string {
	if u == nil {
		return ""
	}
	roles := append([]string(nil), u.Roles...)
	sort.Strings(roles)
	return strconv.FormatInt(u.ID, 10) + "|" + strings.Join(roles, ",")
}

// UserBasic is the abbreviated user embedded in chat records.
type UserBasic struct {
	ID             int64   `json:"id"`
	Email          string  `json:"email"`
	FullName       *string `json:"full_name,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

// Name returns the full name when set, otherwise the email.
func (u UserBasic) Name() string {
	if u.FullName != nil && *u.FullName != "" {
		return *u.FullName
	}
	return u.Email
}

// UserUpdate is the PATCH payload for /users/{id}.
type UserUpdate struct {
	FullName       *string `json:"full_name,omitempty"`
	Password       *string `json:"password,omitempty" validate:"omitempty,min=8"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

// SignupRequest is the payload for /auth/signup.
type SignupRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	FullName *string `json:"full_name,omitempty"`
	Password string  `json:"password" validate:"required,min=8"`
}

// Token is the /auth/token response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RoleRecord is a server-side role with its permission names.
type RoleRecord struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// RoleInput creates or updates a role.
type RoleInput struct {
	Name        string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string `json:"description,omitempty"`
}

// PermissionRecord is a server-side permission.
type PermissionRecord struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// PermissionInput creates or updates a permission.
type PermissionInput struct {
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
