// Package session turns the stored bearer token into the current user.
//
// The Resolver is a small state machine:
//
//	uninitialized -> resolving -> authenticated | anonymous
//
// Every token change restarts resolution. Results belonging to a superseded
// token are discarded, and Refresh updates the user in place without going
// back through resolving.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

// State is the resolver's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State State
	User  *domain.User
}

// Resolved reports whether resolution has settled.
func (s Snapshot) Resolved() bool {
	return s.State == StateAuthenticated || s.State == StateAnonymous
}

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("session resolver closed")

// TokenSource is the token store as seen by the resolver.
type TokenSource interface {
	Get() (string, bool)
	Clear(ctx context.Context) error
	Subscribe() (<-chan tokenstore.Change, func())
}

// ProfileFetcher exchanges the current token for the user profile.
type ProfileFetcher interface {
	Me(ctx context.Context) (*domain.User, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver tracks the current session.
type Resolver struct {
	tokens   TokenSource
	profiles ProfileFetcher
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	user     *domain.User
	token    string
	present  bool
	synced   bool
	gen      uint64
	inflight context.CancelFunc
	changed  chan struct{}
	watchers map[uint64]chan Snapshot
	nextID   uint64
	baseCtx  context.Context
	stop     context.CancelFunc
	unsub    func()
	closed   bool
	wg       sync.WaitGroup
}

// New returns an uninitialized resolver. Call Start to begin resolving.
func New(tokens TokenSource, profiles ProfileFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		tokens:   tokens,
		profiles: profiles,
		logger:   zap.NewNop(),
		now:      time.Now,
		changed:  make(chan struct{}),
		watchers: make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to token changes and resolves the current token.
// A missing token settles to anonymous immediately without a network call.
// ctx bounds the resolver's lifetime; cancelling it is equivalent to Close.
func (r *Resolver) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stop != nil || r.closed {
		r.mu.Unlock()
		return
	}
	r.baseCtx, r.stop = context.WithCancel(ctx)
	changes, unsub := r.tokens.Subscribe()
	r.unsub = unsub
	r.mu.Unlock()

	r.wg.Add(1)
	go r.watchTokens(changes)

	token, ok := r.tokens.Get()
	r.resolve(token, ok)
}

func (r *Resolver) watchTokens(changes <-chan tokenstore.Change) {
	defer r.wg.Done()
	for {
		select {
		case <-r.baseCtx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			// The store is the source of truth; a change read here may
			// already be superseded.
			r.resolve(r.tokens.Get())
		}
	}
}

func (r *Resolver) resolve(token string, present bool) {
	r.mu.Lock()
	after := r.resolveLocked(token, present)
	r.mu.Unlock()
	after()
}

// resolveLocked moves the state machine to the given token. It returns work
// that must run after r.mu is released. A token equal to the one already
// resolved is ignored, so a change seen both by syncLocked and by the
// subscription is handled once.
func (r *Resolver) resolveLocked(token string, present bool) func() {
	noop := func() {}
	if r.closed {
		return noop
	}
	if r.synced && token == r.token && present == r.present {
		return noop
	}
	r.synced = true
	r.token, r.present = token, present
	r.gen++
	gen := r.gen
	if r.inflight != nil {
		r.inflight()
		r.inflight = nil
	}

	if !present {
		r.setLocked(StateAnonymous, nil)
		return func() { metrics.RecordSessionResolution("anonymous") }
	}

	if locallyExpired(token, r.now()) {
		r.setLocked(StateAnonymous, nil)
		return func() {
			metrics.RecordSessionResolution("expired")
			r.logger.Info("stored token expired, signing out")
			r.clearIfCurrent(token)
		}
	}

	r.setLocked(StateResolving, nil)
	fetchCtx, cancel := context.WithCancel(r.baseCtx)
	r.inflight = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		user, err := r.profiles.Me(fetchCtx)

		r.mu.Lock()
		if gen != r.gen || r.closed {
			r.mu.Unlock()
			return
		}
		// The subscription may not have delivered a newer token yet.
		if cur, ok := r.tokens.Get(); !ok || cur != token {
			after := r.resolveLocked(cur, ok)
			r.mu.Unlock()
			after()
			return
		}
		r.inflight = nil
		if err != nil || user == nil {
			r.setLocked(StateAnonymous, nil)
			r.mu.Unlock()
			metrics.RecordSessionResolution("failed")
			r.logger.Info("session resolution failed", zap.Error(err))
			if !errors.Is(err, context.Canceled) {
				r.clearIfCurrent(token)
			}
			return
		}
		r.setLocked(StateAuthenticated, user)
		r.mu.Unlock()
		metrics.RecordSessionResolution("authenticated")
		r.logger.Debug("session resolved", zap.Int64("user_id", user.ID))
	}()
	return noop
}

// syncLocked catches the state machine up with the store when a Set or Clear
// has happened but its notification has not been consumed yet.
func (r *Resolver) syncLocked() func() {
	if !r.synced || r.closed {
		return func() {}
	}
	token, ok := r.tokens.Get()
	return r.resolveLocked(token, ok)
}

// clearIfCurrent drops the stored token only if it is still the one that
// failed, so a login racing a failed resolution is not undone.
func (r *Resolver) clearIfCurrent(token string) {
	cur, ok := r.tokens.Get()
	if !ok || cur != token {
		return
	}
	if err := r.tokens.Clear(r.baseCtx); err != nil {
		r.logger.Warn("failed to clear rejected token", zap.Error(err))
	}
}

// Refresh re-fetches the profile of an authenticated session. The state
// stays authenticated throughout; on failure the current user is kept and
// the error returned for logging.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateAuthenticated {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen
	r.mu.Unlock()

	user, err := r.profiles.Me(ctx)
	if err != nil {
		r.logger.Warn("session refresh failed, keeping current user", zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.gen && r.state == StateAuthenticated && user != nil {
		r.setLocked(StateAuthenticated, user)
	}
	return nil
}

// Snapshot returns the current session. It always reflects the token store
// as of the call: after a Clear it is anonymous, after a Set it is resolving
// (or settled) for the new token.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	after := r.syncLocked()
	snap := Snapshot{State: r.state, User: r.user}
	r.mu.Unlock()
	after()
	return snap
}

// Wait blocks until the session is resolved or ctx is done.
func (r *Resolver) Wait(ctx context.Context) (Snapshot, error) {
	for {
		r.mu.Lock()
		after := r.syncLocked()
		snap := Snapshot{State: r.state, User: r.user}
		ch := r.changed
		closed := r.closed
		r.mu.Unlock()
		after()

		if snap.Resolved() {
			return snap, nil
		}
		if closed {
			return snap, ErrClosed
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// Watch streams snapshots as the session changes. The channel holds only the
// latest snapshot; the returned func stops the stream.
func (r *Resolver) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = ch
	ch <- Snapshot{State: r.state, User: r.user}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			_, ok := r.watchers[id]
			delete(r.watchers, id)
			r.mu.Unlock()
			if ok {
				close(ch)
			}
		})
	}
}

// Close stops watching the token store and cancels any in-flight fetch.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.inflight != nil {
		r.inflight()
		r.inflight = nil
	}
	stop, unsub := r.stop, r.unsub
	watchers := r.watchers
	r.watchers = make(map[uint64]chan Snapshot)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	if unsub != nil {
		unsub()
	}
	r.wg.Wait()
	for _, ch := range watchers {
		close(ch)
	}
}

func (r *Resolver) setLocked(state State, user *domain.User) {
	r.state = state
	r.user = user
	close(r.changed)
	r.changed = make(chan struct{})

	snap := Snapshot{State: state, User: user}
	for _, ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
