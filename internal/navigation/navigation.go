// Package navigation composes the admin and consumer navigation for a user
// and resolves the effective view mode.
package navigation

import (
	"errors"
	"fmt"

	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
)

// Mode is the presentation mode.
type Mode string

const (
	ModeAdmin    Mode = "admin"
	ModeConsumer Mode = "consumer"
)

// ParseMode accepts "admin" or "consumer".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAdmin, ModeConsumer:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown view mode %q (want admin or consumer)", s)
}

// Landing routes.
const (
	AdminLanding    = "/admin"
	ConsumerLanding = "/dashboard"
)

// ErrCannotSwitch is returned when a user without admin-indicating
// permissions tries to change the view mode.
var ErrCannotSwitch = errors.New("view mode is fixed for this account")

// AdminPermissions are the permissions that qualify a user for the admin
// view. Holding any one of them is enough.
var AdminPermissions = []rbac.Permission{
	rbac.PermManageEvents,
	rbac.PermManageUsers,
	rbac.PermManageRoles,
	rbac.PermManagePermissions,
}

// HasAdminPermissions reports whether g holds any admin-indicating permission.
func HasAdminPermissions(g rbac.Grants) bool {
	return g.HasAnyPermission(AdminPermissions...)
}

// Requirement gates a navigation entry. It is one of RequiresPermission,
// RequiresAnyOf or Always.
type Requirement interface {
	Met(g rbac.Grants) bool
	isRequirement()
}

// RequiresPermission is met when the user holds P.
type RequiresPermission struct{ P rbac.Permission }

func (r RequiresPermission) Met(g rbac.Grants) bool { return g.HasPermission(r.P) }
func (RequiresPermission) isRequirement()            {}

// RequiresAnyOf is met when the user holds at least one of Ps.
type RequiresAnyOf struct{ Ps []rbac.Permission }

func (r RequiresAnyOf) Met(g rbac.Grants) bool { return g.HasAnyPermission(r.Ps...) }
func (RequiresAnyOf) isRequirement()            {}

// Always is met by every signed-in user.
type Always struct{}

func (Always) Met(rbac.Grants) bool { return true }
func (Always) isRequirement()       {}

// Item is one navigation entry.
type Item struct {
	Label    string      `json:"label"`
	Path     string      `json:"path"`
	Command  string      `json:"command"`
	Requires Requirement `json:"-"`
}

// AdminItems is the admin navigation list.
var AdminItems = []Item{
	{Label: "Overview", Path: AdminLanding, Command: "rebelz dashboard", Requires: Always{}},
	{Label: "Events", Path: "/admin/events", Command: "rebelz events list", Requires: RequiresPermission{rbac.PermManageEvents}},
	{Label: "Registrations", Path: "/admin/registrations", Command: "rebelz registrations list", Requires: RequiresPermission{rbac.PermManageEvents}},
	{Label: "Chat Groups", Path: "/admin/chat", Command: "rebelz admin groups list", Requires: RequiresAnyOf{[]rbac.Permission{rbac.PermManageUsers, rbac.PermManageEvents}}},
	{Label: "Users", Path: "/admin/users", Command: "rebelz admin users list", Requires: RequiresPermission{rbac.PermManageUsers}},
	{Label: "Roles", Path: "/admin/roles", Command: "rebelz admin roles list", Requires: RequiresPermission{rbac.PermManageRoles}},
	{Label: "Permissions", Path: "/admin/permissions", Command: "rebelz admin permissions list", Requires: RequiresPermission{rbac.PermManagePermissions}},
	{Label: "Assistant", Path: "/assistant", Command: "rebelz assistant", Requires: Always{}},
}

// ConsumerItems is the end-user navigation list.
var ConsumerItems = []Item{
	{Label: "Dashboard", Path: ConsumerLanding, Command: "rebelz dashboard", Requires: Always{}},
	{Label: "Events", Path: "/events", Command: "rebelz events list", Requires: RequiresPermission{rbac.PermViewEvents}},
	{Label: "My Registrations", Path: "/registrations", Command: "rebelz registrations my", Requires: Always{}},
	{Label: "Chat", Path: "/chat", Command: "rebelz chat groups", Requires: Always{}},
	{Label: "Assistant", Path: "/assistant", Command: "rebelz assistant", Requires: Always{}},
	{Label: "Profile", Path: "/profile", Command: "rebelz whoami", Requires: Always{}},
}

// Filter returns the entries of items whose requirement g meets.
func Filter(items []Item, g rbac.Grants) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Requires == nil || it.Requires.Met(g) {
			out = append(out, it)
		}
	}
	return out
}

// View is the composed presentation for one user.
type View struct {
	Mode      Mode   `json:"mode"`
	CanSwitch bool   `json:"can_switch"`
	Landing   string `json:"landing"`
	Items     []Item `json:"items"`
}

// Admin reports whether the admin presentation is in effect.
func (v View) Admin() bool { return v.Mode == ModeAdmin }

// Compose builds the view for g. pref is the stored preference and is only
// honoured when the user may switch; an empty pref means none is stored.
func Compose(g rbac.Grants, pref Mode) View {
	canSwitch := HasAdminPermissions(g)
	admin := canSwitch
	if canSwitch && pref != "" {
		admin = pref == ModeAdmin
	}
	if admin {
		return View{Mode: ModeAdmin, CanSwitch: canSwitch, Landing: AdminLanding, Items: Filter(AdminItems, g)}
	}
	return View{Mode: ModeConsumer, CanSwitch: canSwitch, Landing: ConsumerLanding, Items: Filter(ConsumerItems, g)}
}

// Landing returns the landing route for g under pref.
func Landing(g rbac.Grants, pref Mode) string {
	return Compose(g, pref).Landing
}

// ModeStore persists the view-mode preference.
type ModeStore interface {
	ViewMode() (Mode, error)
	SetViewMode(Mode) error
}

// Composer composes views against a stored preference.
type Composer struct {
	store ModeStore
}

// NewComposer returns a composer backed by store.
func NewComposer(store ModeStore) *Composer {
	return &Composer{store: store}
}

// View composes the current view for g.
func (c *Composer) View(g rbac.Grants) (View, error) {
	pref, err := c.store.ViewMode()
	if err != nil {
		return Compose(g, ""), fmt.Errorf("read view mode: %w", err)
	}
	return Compose(g, pref), nil
}

// LandingFor is View(g).Landing, falling back to the permission-derived
// landing when the preference cannot be read.
func (c *Composer) LandingFor(g rbac.Grants) string {
	v, _ := c.View(g)
	return v.Landing
}

// SetMode stores m for a user who may switch. Nothing is written for other
// users and ErrCannotSwitch is returned.
func (c *Composer) SetMode(g rbac.Grants, m Mode) (View, error) {
	if !HasAdminPermissions(g) {
		return Compose(g, ""), ErrCannotSwitch
	}
	if err := c.store.SetViewMode(m); err != nil {
		return Compose(g, ""), fmt.Errorf("save view mode: %w", err)
	}
	return Compose(g, m), nil
}

// Toggle flips between the admin and consumer view.
func (c *Composer) Toggle(g rbac.Grants) (View, error) {
	cur, err := c.View(g)
	if err != nil {
		return cur, err
	}
	next := ModeAdmin
	if cur.Admin() {
		next = ModeConsumer
	}
	return c.SetMode(g, next)
}
