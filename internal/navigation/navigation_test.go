package navigation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
)

type memStore struct {
	mode   Mode
	writes int
	err    error
}

func (s *memStore) ViewMode() (Mode, error) { return s.mode, s.err }

func (s *memStore) SetViewMode(m Mode) error {
	s.writes++
	s.mode = m
	return nil
}

func grantsFor(roles ...string) rbac.Grants {
	return rbac.Compute(rbac.DefaultTable(), &domain.User{ID: 1, Email: "u@example.com", Roles: roles})
}

func paths(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Path)
	}
	return out
}

func TestComposeByRole(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		pref      Mode
		mode      Mode
		canSwitch bool
		landing   string
		paths     []string
	}{
		{
			name:    "student gets consumer view",
			roles:   []string{"student"},
			mode:    ModeConsumer,
			landing: ConsumerLanding,
			paths:   []string{"/dashboard", "/events", "/registrations", "/chat", "/assistant", "/profile"},
		},
		{
			name:    "no roles hides events",
			mode:    ModeConsumer,
			landing: ConsumerLanding,
			paths:   []string{"/dashboard", "/registrations", "/chat", "/assistant", "/profile"},
		},
		{
			name:      "instructor defaults to admin view",
			roles:     []string{"instructor"},
			mode:      ModeAdmin,
			canSwitch: true,
			landing:   AdminLanding,
			paths:     []string{"/admin", "/admin/events", "/admin/registrations", "/admin/chat", "/assistant"},
		},
		{
			name:      "instructor preferring consumer",
			roles:     []string{"instructor"},
			pref:      ModeConsumer,
			mode:      ModeConsumer,
			canSwitch: true,
			landing:   ConsumerLanding,
			paths:     []string{"/dashboard", "/events", "/registrations", "/chat", "/assistant", "/profile"},
		},
		{
			name:      "admin sees everything",
			roles:     []string{"admin"},
			mode:      ModeAdmin,
			canSwitch: true,
			landing:   AdminLanding,
			paths:     paths(AdminItems),
		},
		{
			name:    "student preference is ignored",
			roles:   []string{"student"},
			pref:    ModeAdmin,
			mode:    ModeConsumer,
			landing: ConsumerLanding,
			paths:   []string{"/dashboard", "/events", "/registrations", "/chat", "/assistant", "/profile"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Compose(grantsFor(tt.roles...), tt.pref)
			if v.Mode != tt.mode {
				t.Errorf("mode = %s, want %s", v.Mode, tt.mode)
			}
			if v.CanSwitch != tt.canSwitch {
				t.Errorf("canSwitch = %v, want %v", v.CanSwitch, tt.canSwitch)
			}
			if v.Landing != tt.landing {
				t.Errorf("landing = %s, want %s", v.Landing, tt.landing)
			}
			if diff := cmp.Diff(tt.paths, paths(v.Items)); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequirementVariants(t *testing.T) {
	student := grantsFor("student")
	if !(Always{}).Met(rbac.Grants{}) {
		t.Error("Always should be met")
	}
	if !(RequiresPermission{rbac.PermViewEvents}).Met(student) {
		t.Error("student should view events")
	}
	if (RequiresPermission{rbac.PermManageEvents}).Met(student) {
		t.Error("student should not manage events")
	}
	anyOf := RequiresAnyOf{[]rbac.Permission{rbac.PermManageUsers, rbac.PermViewEvents}}
	if !anyOf.Met(student) {
		t.Error("AnyOf should be met by one permission")
	}
	if (RequiresAnyOf{}).Met(student) {
		t.Error("empty AnyOf should not be met")
	}
}

func TestSetModeRejectedForNonSwitcher(t *testing.T) {
	store := &memStore{}
	c := NewComposer(store)

	v, err := c.SetMode(grantsFor("student"), ModeAdmin)
	if !errors.Is(err, ErrCannotSwitch) {
		t.Fatalf("expected ErrCannotSwitch, got %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("expected no writes, got %d", store.writes)
	}
	if v.Admin() {
		t.Fatal("student must stay in consumer view")
	}

	if _, err := c.Toggle(grantsFor("student")); !errors.Is(err, ErrCannotSwitch) {
		t.Fatalf("toggle: expected ErrCannotSwitch, got %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("toggle wrote the preference")
	}
}

func TestToggleFlipsForSwitcher(t *testing.T) {
	store := &memStore{}
	c := NewComposer(store)
	g := grantsFor("instructor")

	v, err := c.Toggle(g)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if v.Mode != ModeConsumer || store.mode != ModeConsumer {
		t.Fatalf("expected consumer after first toggle, view=%s stored=%s", v.Mode, store.mode)
	}
	if c.LandingFor(g) != ConsumerLanding {
		t.Fatalf("landing should follow the preference")
	}

	v, err = c.Toggle(g)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if v.Mode != ModeAdmin || c.LandingFor(g) != AdminLanding {
		t.Fatalf("expected admin after second toggle, got %s", v.Mode)
	}
}

func TestViewFallsBackWhenStoreFails(t *testing.T) {
	c := NewComposer(&memStore{mode: ModeConsumer, err: errors.New("disk gone")})
	v, err := c.View(grantsFor("admin"))
	if err == nil {
		t.Fatal("expected error")
	}
	if v.Mode != ModeAdmin {
		t.Fatalf("expected permission-derived admin view, got %s", v.Mode)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("admin"); err != nil || m != ModeAdmin {
		t.Fatalf("ParseMode(admin) = %q, %v", m, err)
	}
	if _, err := ParseMode("root"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
