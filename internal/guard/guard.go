// Package guard decides whether a route may render for the current session.
package guard

import (
	"context"
	"fmt"

	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
	"github.com/KobaKhit/rebelzapp-sub001/internal/session"
)

// Kind is the outcome of a guard check.
type Kind int

const (
	// Loading means the session has not resolved yet; nothing is decided.
	Loading Kind = iota
	// RedirectLogin means nobody is signed in.
	RedirectLogin
	// RedirectLanding means the user lacks a required permission or role.
	RedirectLanding
	// Render means the route may proceed.
	Render
)

func (k Kind) String() string {
	switch k {
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect-login"
	case RedirectLanding:
		return "redirect-landing"
	case Render:
		return "render"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Requirement is what a route needs. The zero value requires only a
// signed-in user. Every field that is set must hold.
type Requirement struct {
	Permission rbac.Permission
	Role       rbac.Role
	// AnyOf is satisfied by holding at least one of the listed permissions.
	AnyOf []rbac.Permission
	// Public routes render for anonymous sessions too.
	Public bool
}

// Decision is the guard's verdict.
type Decision struct {
	Kind Kind
	// From is the requested location, kept for RedirectLogin so the caller
	// can return there after signing in.
	From string
	// Target is the landing route for RedirectLanding.
	Target string
}

// Input is everything Evaluate looks at.
type Input struct {
	Session     session.Snapshot
	Grants      rbac.Grants
	Requirement Requirement
	Location    string
	Landing     string
}

// Evaluate is the pure guard function.
func Evaluate(in Input) Decision {
	if !in.Session.Resolved() {
		return Decision{Kind: Loading}
	}
	if in.Requirement.Public {
		return Decision{Kind: Render}
	}
	if in.Session.User == nil {
		return Decision{Kind: RedirectLogin, From: in.Location}
	}
	if p := in.Requirement.Permission; p != "" && !in.Grants.HasPermission(p) {
		return Decision{Kind: RedirectLanding, Target: in.Landing}
	}
	if r := in.Requirement.Role; r != "" && !in.Grants.HasRole(r) {
		return Decision{Kind: RedirectLanding, Target: in.Landing}
	}
	if ps := in.Requirement.AnyOf; len(ps) > 0 && !in.Grants.HasAnyPermission(ps...) {
		return Decision{Kind: RedirectLanding, Target: in.Landing}
	}
	return Decision{Kind: Render}
}

// SessionWaiter blocks until the session settles.
type SessionWaiter interface {
	Wait(ctx context.Context) (session.Snapshot, error)
}

// LandingFunc picks the landing route for a user's grants.
type LandingFunc func(rbac.Grants) string

// Guard evaluates requirements against the live session.
type Guard struct {
	sessions  SessionWaiter
	evaluator *rbac.Evaluator
	landing   LandingFunc
}

// New returns a guard. landing may be nil, in which case RedirectLanding
// decisions carry no target.
func New(sessions SessionWaiter, evaluator *rbac.Evaluator, landing LandingFunc) *Guard {
	if evaluator == nil {
		evaluator = rbac.NewEvaluator(nil)
	}
	return &Guard{sessions: sessions, evaluator: evaluator, landing: landing}
}

// Result is a decision plus the session and grants it was made from, so
// callers can render without re-reading the session.
type Result struct {
	Decision
	Session session.Snapshot
	Grants  rbac.Grants
}

// Enforce waits out the loading phase and returns the decision for loc.
// It returns an error only when the wait fails (ctx done or resolver closed).
func (g *Guard) Enforce(ctx context.Context, req Requirement, loc string) (Result, error) {
	snap, err := g.sessions.Wait(ctx)
	if err != nil {
		return Result{Decision: Decision{Kind: Loading}, Session: snap}, fmt.Errorf("waiting for session: %w", err)
	}
	grants := g.evaluator.For(snap.User)
	in := Input{
		Session:     snap,
		Grants:      grants,
		Requirement: req,
		Location:    loc,
	}
	if g.landing != nil {
		in.Landing = g.landing(grants)
	}
	return Result{Decision: Evaluate(in), Session: snap, Grants: grants}, nil
}
