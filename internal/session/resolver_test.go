package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

type fakeProfiles struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (*domain.User, error)
}

func (f *fakeProfiles) Me(ctx context.Context) (*domain.User, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, call)
}

func (f *fakeProfiles) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStore(t *testing.T, token string) *tokenstore.Store {
	t.Helper()
	s, err := tokenstore.Open(context.Background(), tokenstore.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		if err := s.Set(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func waitResolved(t *testing.T, r *Resolver) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func alice() *domain.User {
	return &domain.User{ID: 1, Email: "alice@example.com", IsActive: true, Roles: []string{"student"}}
}

func TestNoTokenResolvesAnonymousWithoutNetwork(t *testing.T) {
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		t.Error("profile fetched without a token")
		return nil, nil
	}}
	r := New(newStore(t, ""), profiles)
	defer r.Close()

	if got := r.Snapshot().State; got != StateUninitialized {
		t.Fatalf("expected uninitialized before Start, got %s", got)
	}

	r.Start(context.Background())
	snap := r.Snapshot()
	if snap.State != StateAnonymous || snap.User != nil {
		t.Fatalf("expected anonymous immediately, got %+v", snap)
	}
	if profiles.Calls() != 0 {
		t.Fatalf("expected no profile calls, got %d", profiles.Calls())
	}
}

func TestValidTokenAuthenticates(t *testing.T) {
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		return alice(), nil
	}}
	r := New(newStore(t, "opaque-token"), profiles)
	defer r.Close()
	r.Start(context.Background())

	snap := waitResolved(t, r)
	if snap.State != StateAuthenticated || snap.User == nil || snap.User.Email != "alice@example.com" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestFailedResolutionClearsToken(t *testing.T) {
	store := newStore(t, "bad-token")
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		return nil, errors.New("401")
	}}
	r := New(store, profiles)
	defer r.Close()
	r.Start(context.Background())

	snap := waitResolved(t, r)
	if snap.State != StateAnonymous || snap.User != nil {
		t.Fatalf("expected anonymous, got %+v", snap)
	}
	waitFor(t, func() bool {
		_, ok := store.Get()
		return !ok
	})
}

func TestExpiredTokenSkipsNetwork(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	store := newStore(t, expired)
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		return alice(), nil
	}}
	r := New(store, profiles)
	defer r.Close()
	r.Start(context.Background())

	if got := r.Snapshot().State; got != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", got)
	}
	if profiles.Calls() != 0 {
		t.Fatalf("expected no profile calls, got %d", profiles.Calls())
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected expired token to be cleared")
	}
}

func TestTokenChangeSupersedesInflightResolution(t *testing.T) {
	release := make(chan struct{})
	profiles := &fakeProfiles{fn: func(ctx context.Context, call int) (*domain.User, error) {
		if call == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &domain.User{ID: 99, Email: "stale@example.com"}, nil
		}
		return alice(), nil
	}}
	store := newStore(t, "first")
	r := New(store, profiles)
	defer r.Close()
	r.Start(context.Background())

	if got := r.Snapshot().State; got != StateResolving {
		t.Fatalf("expected resolving, got %s", got)
	}

	if err := store.Set(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	close(release)

	waitFor(t, func() bool {
		s := r.Snapshot()
		return s.State == StateAuthenticated && s.User != nil
	})
	if got := r.Snapshot().User.ID; got != 1 {
		t.Fatalf("expected user from the newer token, got id %d", got)
	}
	if tok, _ := store.Get(); tok != "second" {
		t.Fatalf("newer token must survive, got %q", tok)
	}
}

func TestLogoutDrivesAnonymous(t *testing.T) {
	store := newStore(t, "tok")
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		return alice(), nil
	}}
	r := New(store, profiles)
	defer r.Close()
	r.Start(context.Background())
	waitResolved(t, r)

	if err := store.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return r.Snapshot().State == StateAnonymous })
	if r.Snapshot().User != nil {
		t.Fatal("expected user cleared on logout")
	}
}

func TestRefreshFailureKeepsUserAndNeverResolves(t *testing.T) {
	profiles := &fakeProfiles{fn: func(_ context.Context, call int) (*domain.User, error) {
		if call == 1 {
			return alice(), nil
		}
		return nil, errors.New("connection refused")
	}}
	r := New(newStore(t, "tok"), profiles)
	defer r.Close()
	r.Start(context.Background())
	waitResolved(t, r)

	updates, stop := r.Watch()
	defer stop()
	<-updates

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	snap := r.Snapshot()
	if snap.State != StateAuthenticated || snap.User == nil || snap.User.ID != 1 {
		t.Fatalf("expected existing user kept, got %+v", snap)
	}
	select {
	case s := <-updates:
		t.Fatalf("refresh failure must not publish, got %+v", s)
	default:
	}
}

func TestRefreshReplacesUserWithoutResolving(t *testing.T) {
	name := "Alice Updated"
	profiles := &fakeProfiles{fn: func(_ context.Context, call int) (*domain.User, error) {
		u := alice()
		if call > 1 {
			u.FullName = &name
			u.Roles = []string{"student", "instructor"}
		}
		return u, nil
	}}
	r := New(newStore(t, "tok"), profiles)
	defer r.Close()
	r.Start(context.Background())
	waitResolved(t, r)

	updates, stop := r.Watch()
	defer stop()
	<-updates

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-updates:
		if s.State != StateAuthenticated {
			t.Fatalf("refresh published state %s", s.State)
		}
		if s.User.DisplayName() != name {
			t.Fatalf("expected refreshed user, got %q", s.User.DisplayName())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot after refresh")
	}
}

func TestRefreshWhenAnonymousIsNoop(t *testing.T) {
	profiles := &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) {
		return alice(), nil
	}}
	r := New(newStore(t, ""), profiles)
	defer r.Close()
	r.Start(context.Background())

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if profiles.Calls() != 0 {
		t.Fatalf("expected no profile calls, got %d", profiles.Calls())
	}
}

func TestClearIfCurrentSparesNewerToken(t *testing.T) {
	store := newStore(t, "newer")
	r := New(store, &fakeProfiles{fn: func(context.Context, int) (*domain.User, error) { return alice(), nil }})
	r.baseCtx = context.Background()

	r.clearIfCurrent("older")
	if tok, ok := store.Get(); !ok || tok != "newer" {
		t.Fatalf("expected newer token kept, got %q", tok)
	}
}

func TestWaitAfterCloseReturnsErrClosed(t *testing.T) {
	block := make(chan struct{})
	profiles := &fakeProfiles{fn: func(ctx context.Context, _ int) (*domain.User, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}
	r := New(newStore(t, "tok"), profiles)
	r.Start(context.Background())
	r.Close()
	close(block)

	if _, err := r.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestInspectToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bob@example.com",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	c, err := InspectToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "bob@example.com" || !c.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected claims %+v", c)
	}
	if c.Expired(time.Now()) {
		t.Fatal("token should not be expired yet")
	}

	if _, err := InspectToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for opaque token")
	}
}

// quietTokens is a store whose change notifications are never delivered, so
// the resolver can only learn about Set and Clear by reading it.
type quietTokens struct {
	*tokenstore.Store
}

func (quietTokens) Subscribe() (<-chan tokenstore.Change, func()) {
	return make(chan tokenstore.Change), func() {}
}

func TestSnapshotFollowsStoreWithoutNotification(t *testing.T) {
	store := newStore(t, "first")
	profiles := &fakeProfiles{fn: func(_ context.Context, call int) (*domain.User, error) {
		if call == 1 {
			return alice(), nil
		}
		return &domain.User{ID: 2, Email: "bob@example.com", IsActive: true}, nil
	}}
	r := New(quietTokens{store}, profiles)
	defer r.Close()
	r.Start(context.Background())
	if snap := waitResolved(t, r); snap.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %+v", snap)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap := r.Snapshot(); snap.State != StateAnonymous || snap.User != nil {
		t.Fatalf("expected anonymous right after Clear, got %+v", snap)
	}

	if err := store.Set(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	snap := waitResolved(t, r)
	if snap.State != StateAuthenticated || snap.User.ID != 2 {
		t.Fatalf("expected the second user, got %+v", snap)
	}
}

func TestStaleProfileIsNotPublishedWithoutNotification(t *testing.T) {
	release := make(chan struct{})
	profiles := &fakeProfiles{fn: func(_ context.Context, call int) (*domain.User, error) {
		if call == 1 {
			<-release
			return &domain.User{ID: 99, Email: "stale@example.com"}, nil
		}
		return alice(), nil
	}}
	store := newStore(t, "first")
	r := New(quietTokens{store}, profiles)
	defer r.Close()
	r.Start(context.Background())

	if err := store.Set(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	close(release)

	waitFor(t, func() bool { return profiles.Calls() >= 2 })
	snap := waitResolved(t, r)
	if snap.User == nil || snap.User.ID != 1 {
		t.Fatalf("expected user from the newer token, got %+v", snap.User)
	}
}
