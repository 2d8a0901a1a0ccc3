package guard

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
	"github.com/KobaKhit/rebelzapp-sub001/internal/session"
)

type staticWaiter struct {
	snap session.Snapshot
	err  error
}

func (w staticWaiter) Wait(context.Context) (session.Snapshot, error) {
	return w.snap, w.err
}

func signedIn(roles ...string) session.Snapshot {
	return session.Snapshot{
		State: session.StateAuthenticated,
		User:  &domain.User{ID: 7, Email: "someone@example.com", IsActive: true, Roles: roles},
	}
}

var anonymous = session.Snapshot{State: session.StateAnonymous}

func inputFor(snap session.Snapshot, req Requirement) Input {
	return Input{
		Session:     snap,
		Grants:      rbac.Compute(rbac.DefaultTable(), snap.User),
		Requirement: req,
		Location:    "/events/42",
		Landing:     "/dashboard",
	}
}

var _ = Describe("Evaluate", func() {
	It("waits while the session is unresolved", func() {
		for _, st := range []session.State{session.StateUninitialized, session.StateResolving} {
			d := Evaluate(inputFor(session.Snapshot{State: st}, Requirement{}))
			Expect(d.Kind).To(Equal(Loading), "state %s", st)
		}
	})

	It("sends anonymous users to login and keeps where they were going", func() {
		d := Evaluate(inputFor(anonymous, Requirement{Permission: rbac.PermViewEvents}))
		Expect(d).To(Equal(Decision{Kind: RedirectLogin, From: "/events/42"}))
	})

	It("renders public routes without a user", func() {
		d := Evaluate(inputFor(anonymous, Requirement{Public: true}))
		Expect(d.Kind).To(Equal(Render))
	})

	It("renders for any signed-in user when nothing is required", func() {
		Expect(Evaluate(inputFor(signedIn(), Requirement{})).Kind).To(Equal(Render))
	})

	It("redirects to the landing route when a permission is missing", func() {
		d := Evaluate(inputFor(signedIn("student"), Requirement{Permission: rbac.PermManageEvents}))
		Expect(d).To(Equal(Decision{Kind: RedirectLanding, Target: "/dashboard"}))
	})

	It("redirects to the landing route when a role is missing", func() {
		d := Evaluate(inputFor(signedIn("instructor"), Requirement{Role: rbac.RoleAdmin}))
		Expect(d.Kind).To(Equal(RedirectLanding))
	})

	It("requires both permission and role when both are set", func() {
		req := Requirement{Permission: rbac.PermManageEvents, Role: rbac.RoleStudent}

		Expect(Evaluate(inputFor(signedIn("instructor"), req)).Kind).To(Equal(RedirectLanding))
		Expect(Evaluate(inputFor(signedIn("student"), req)).Kind).To(Equal(RedirectLanding))
		Expect(Evaluate(inputFor(signedIn("student", "instructor"), req)).Kind).To(Equal(Render))
	})

	It("accepts any one of an AnyOf list", func() {
		req := Requirement{AnyOf: []rbac.Permission{rbac.PermManageUsers, rbac.PermManageEvents}}

		Expect(Evaluate(inputFor(signedIn("student"), req)).Kind).To(Equal(RedirectLanding))
		Expect(Evaluate(inputFor(signedIn("instructor"), req)).Kind).To(Equal(Render))
	})

	It("lets admins through every permission check", func() {
		d := Evaluate(inputFor(signedIn("admin"), Requirement{Permission: rbac.PermManagePermissions}))
		Expect(d.Kind).To(Equal(Render))
	})
})

var _ = Describe("Guard", func() {
	ctx := context.Background()

	landing := func(g rbac.Grants) string {
		if g.IsAdmin() {
			return "/admin"
		}
		return "/dashboard"
	}

	It("evaluates against the settled session", func() {
		g := New(staticWaiter{snap: signedIn("instructor")}, nil, landing)

		res, err := g.Enforce(ctx, Requirement{Permission: rbac.PermManageEvents}, "/events/new")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(Render))
		Expect(res.Session.User.Email).To(Equal("someone@example.com"))
		Expect(res.Grants.HasPermission(rbac.PermManageEvents)).To(BeTrue())
	})

	It("uses the landing func for the redirect target", func() {
		g := New(staticWaiter{snap: signedIn("student")}, rbac.NewEvaluator(nil), landing)

		res, err := g.Enforce(ctx, Requirement{Permission: rbac.PermManageUsers}, "/admin/users")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Decision).To(Equal(Decision{Kind: RedirectLanding, Target: "/dashboard"}))
	})

	It("leaves the target empty without a landing func", func() {
		g := New(staticWaiter{snap: signedIn("student")}, nil, nil)

		res, err := g.Enforce(ctx, Requirement{Role: rbac.RoleAdmin}, "/admin")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(RedirectLanding))
		Expect(res.Target).To(BeEmpty())
	})

	It("reports login redirects for anonymous sessions", func() {
		g := New(staticWaiter{snap: anonymous}, nil, landing)

		res, err := g.Enforce(ctx, Requirement{}, "/dashboard")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Decision).To(Equal(Decision{Kind: RedirectLogin, From: "/dashboard"}))
	})

	It("returns Loading and the wait error when the session never settles", func() {
		g := New(staticWaiter{err: session.ErrClosed}, nil, landing)

		res, err := g.Enforce(ctx, Requirement{}, "/dashboard")
		Expect(errors.Is(err, session.ErrClosed)).To(BeTrue())
		Expect(res.Kind).To(Equal(Loading))
	})
})
