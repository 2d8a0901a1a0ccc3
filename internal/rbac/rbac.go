/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package rbac answers permission and role questions for the signed-in user
// against the compiled-in role→permission table.
package rbac

import (
	"sort"
	"strconv"
	"sync"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Role is a platform role name as reported by /auth/me.
type Role string

const (
	// RoleAdmin holds every permission and is never looked up in the table.
	RoleAdmin Role = "admin"

	// RoleInstructor can view and manage events.
	RoleInstructor Role = "instructor"

	// RoleStudent can view events.
	RoleStudent Role = "student"
)

// Permission is a capability name.
type Permission string

const (
	PermViewEvents        Permission = "view_events"
	PermManageEvents      Permission = "manage_events"
	PermManageUsers       Permission = "manage_users"
	PermManageRoles       Permission = "manage_roles"
	PermManagePermissions Permission = "manage_permissions"
)

// Wildcard is reported by Grants.Permissions for admin users.
const Wildcard = "*"

// Table maps non-admin roles to the permissions they grant.
type Table map[Role][]Permission

// DefaultTable mirrors the platform's seeded roles.
func DefaultTable() Table {
	return Table{
		RoleStudent:    {PermViewEvents},
		RoleInstructor: {PermViewEvents, PermManageEvents},
	}
}

// Grants is the effective permission view of one user.
// The zero value denies everything.
type Grants struct {
	present bool
	admin   bool
	roles   map[string]struct{}
	perms   map[Permission]struct{}
}

// Authenticated reports whether the grants belong to a signed-in user.
func (g Grants) Authenticated() bool { return g.present }

// IsAdmin reports whether the user holds the wildcard role.
func (g Grants) IsAdmin() bool { return g.admin }

// HasPermission reports whether the user holds p directly or via admin.
func (g Grants) HasPermission(p Permission) bool {
	if !g.present {
		return false
	}
	if g.admin {
		return true
	}
	_, ok := g.perms[p]
	return ok
}

// HasAnyPermission is HasPermission OR'd over ps. Empty ps is false.
func (g Grants) HasAnyPermission(ps ...Permission) bool {
	for _, p := range ps {
		if g.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasRole checks verbatim membership in the user's role list.
func (g Grants) HasRole(r Role) bool {
	if !g.present {
		return false
	}
	_, ok := g.roles[string(r)]
	return ok
}

// Permissions returns the sorted effective set, or ["*"] for admins.
func (g Grants) Permissions() []string {
	if !g.present {
		return nil
	}
	if g.admin {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(g.perms))
	for p := range g.perms {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Compute derives grants for user from table without caching.
func Compute(table Table, user *domain.User) Grants {
	if user == nil {
		return Grants{}
	}
	g := Grants{
		present: true,
		roles:   make(map[string]struct{}, len(user.Roles)),
		perms:   make(map[Permission]struct{}),
	}
	for _, r := range user.Roles {
		g.roles[r] = struct{}{}
		if Role(r) == RoleAdmin {
			g.admin = true
			continue
		}
		for _, p := range table[Role(r)] {
			g.perms[p] = struct{}{}
		}
	}
	return g
}

// Evaluator caches Grants per user identity and table version.
type Evaluator struct {
	mu      sync.Mutex
	table   Table
	version uint64
	key     string
	cached  Grants
	misses  int
}

// NewEvaluator returns an evaluator over table (DefaultTable when nil).
func NewEvaluator(table Table) *Evaluator {
	if table == nil {
		table = DefaultTable()
	}
	return &Evaluator{table: cloneTable(table), version: 1}
}

// Version returns the current table version.
func (e *Evaluator) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Replace swaps the table and invalidates the cache.
func (e *Evaluator) Replace(table Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = cloneTable(table)
	e.version++
	e.key = ""
	e.cached = Grants{}
}

// For returns grants for user. Grants are recomputed only when the user
// fingerprint or table version differs from the previous call.
func (e *Evaluator) For(user *domain.User) Grants {
	if user == nil {
		return Grants{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := cacheKey(user, e.version)
	if key == e.key {
		return e.cached
	}
	e.cached = Compute(e.table, user)
	e.key = key
	e.misses++
	return e.cached
}

func cacheKey(user *domain.User, version uint64) string {
	return user.Fingerprint() + "@" + strconv.FormatUint(version, 10)
}

func cloneTable(t Table) Table {
	out := make(Table, len(t))
	for r, ps := range t {
		out[r] = append([]Permission(nil), ps...)
	}
	return out
}
