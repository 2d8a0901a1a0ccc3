package apiclient

import (
	"context"
	"errors"
	"net/http"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Users is the /users administration API.
type Users struct{ c *Client }

// Users returns the users resource client.
func (c *Client) Users() *Users { return &Users{c: c} }

// List returns all users.
func (u *Users) List(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	if err := u.c.doJSON(ctx, get("/users/", "/users/", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one user.
func (u *Users) Get(ctx context.Context, userID int64) (*domain.User, error) {
	var out domain.User
	if err := u.c.doJSON(ctx, get("/users/{id}", "/users/"+id(userID), nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update patches a user.
func (u *Users) Update(ctx context.Context, userID int64, in domain.UserUpdate) (*domain.User, error) {
	if err := u.c.check(in); err != nil {
		return nil, err
	}
	var out domain.User
	if err := u.c.doJSON(ctx, send(http.MethodPatch, "/users/{id}", "/users/"+id(userID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignRoles replaces the user's roles with names.
func (u *Users) AssignRoles(ctx context.Context, userID int64, names []string) (*domain.User, error) {
	if names == nil {
		names = []string{}
	}
	var out domain.User
	path := "/users/" + id(userID) + "/roles"
	if err := u.c.doJSON(ctx, send(http.MethodPost, "/users/{id}/roles", path, names), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Roles is the /roles administration API.
type Roles struct{ c *Client }

// Roles returns the roles resource client.
func (c *Client) Roles() *Roles { return &Roles{c: c} }

// List returns all roles with their permissions.
func (r *Roles) List(ctx context.Context) ([]domain.RoleRecord, error) {
	var out []domain.RoleRecord
	if err := r.c.doJSON(ctx, get("/roles/", "/roles/", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one role.
func (r *Roles) Get(ctx context.Context, roleID int64) (*domain.RoleRecord, error) {
	var out domain.RoleRecord
	if err := r.c.doJSON(ctx, get("/roles/{id}", "/roles/"+id(roleID), nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create adds a role.
func (r *Roles) Create(ctx context.Context, in domain.RoleInput) (*domain.RoleRecord, error) {
	if in.Name == "" {
		return nil, errors.New("invalid request: role name is required")
	}
	var out domain.RoleRecord
	if err := r.c.doJSON(ctx, send(http.MethodPost, "/roles/", "/roles/", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDescription changes a role's description; names are immutable.
func (r *Roles) UpdateDescription(ctx context.Context, roleID int64, description string) (*domain.RoleRecord, error) {
	var out domain.RoleRecord
	in := domain.RoleInput{Description: &description}
	if err := r.c.doJSON(ctx, send(http.MethodPatch, "/roles/{id}", "/roles/"+id(roleID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPermissions replaces the role's permissions with names.
func (r *Roles) SetPermissions(ctx context.Context, roleID int64, names []string) (*domain.RoleRecord, error) {
	if names == nil {
		names = []string{}
	}
	var out domain.RoleRecord
	path := "/roles/" + id(roleID) + "/permissions"
	if err := r.c.doJSON(ctx, send(http.MethodPost, "/roles/{id}/permissions", path, names), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a role.
func (r *Roles) Delete(ctx context.Context, roleID int64) error {
	return r.c.doJSON(ctx, send(http.MethodDelete, "/roles/{id}", "/roles/"+id(roleID), nil), nil)
}

// Permissions is the /permissions administration API.
type Permissions struct{ c *Client }

// Permissions returns the permissions resource client.
func (c *Client) Permissions() *Permissions { return &Permissions{c: c} }

// List returns all permissions.
func (p *Permissions) List(ctx context.Context) ([]domain.PermissionRecord, error) {
	var out []domain.PermissionRecord
	if err := p.c.doJSON(ctx, get("/permissions/", "/permissions/", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds a permission.
func (p *Permissions) Create(ctx context.Context, in domain.PermissionInput) (*domain.PermissionRecord, error) {
	if in.Name == "" {
		return nil, errors.New("invalid request: permission name is required")
	}
	var out domain.PermissionRecord
	if err := p.c.doJSON(ctx, send(http.MethodPost, "/permissions/", "/permissions/", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDescription changes a permission's description.
func (p *Permissions) UpdateDescription(ctx context.Context, permissionID int64, description string) (*domain.PermissionRecord, error) {
	var out domain.PermissionRecord
	in := domain.PermissionInput{Description: &description}
	if err := p.c.doJSON(ctx, send(http.MethodPatch, "/permissions/{id}", "/permissions/"+id(permissionID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a permission.
func (p *Permissions) Delete(ctx context.Context, permissionID int64) error {
	return p.c.doJSON(ctx, send(http.MethodDelete, "/permissions/{id}", "/permissions/"+id(permissionID), nil), nil)
}
