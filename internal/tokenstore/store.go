// Package tokenstore holds the bearer credential for the current login.
//
// The Store keeps one token in memory, backed by a single persistent slot
// (Backend). Dependents subscribe to changes instead of reading the slot
// directly, so a logout triggered anywhere reaches every consumer.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoToken is returned by a Backend when the slot is empty.
var ErrNoToken = errors.New("no stored token")

// Record is the persisted envelope around the bearer token.
type Record struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	APIURL      string    `json:"api_url,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Backend is a persistent single-slot token store.
type Backend interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context) error
	Close() error
}

// Change is delivered to subscribers after every Set or Clear.
type Change struct {
	Token   string
	Present bool
}

// Store is the in-memory view of the token slot.
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu     sync.RWMutex
	record *Record
	subs   map[uint64]chan Change
	nextID uint64
}

// Open reads the slot once and returns a Store initialised from it.
// A corrupt or unreadable slot is treated as empty and logged.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("token backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		backend: backend,
		logger:  logger,
		subs:    make(map[uint64]chan Change),
	}

	rec, err := backend.Load(ctx)
	switch {
	case err == nil:
		if strings.TrimSpace(rec.AccessToken) != "" {
			s.record = rec
		}
	case errors.Is(err, ErrNoToken):
	default:
		logger.Warn("stored token unreadable, starting anonymous", zap.Error(err))
	}
	return s, nil
}

// Get returns the current token.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return "", false
	}
	return s.record.AccessToken, true
}

// Record returns a copy of the current envelope.
func (s *Store) Record() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return Record{}, false
	}
	return *s.record, true
}

// Set persists token and makes it current.
func (s *Store) Set(ctx context.Context, token string) error {
	return s.SetRecord(ctx, Record{AccessToken: token, TokenType: "bearer"})
}

// SetRecord persists rec and makes it current.
func (s *Store) SetRecord(ctx context.Context, rec Record) error {
	rec.AccessToken = strings.TrimSpace(rec.AccessToken)
	if rec.AccessToken == "" {
		return errors.New("token must not be empty")
	}
	if rec.TokenType == "" {
		rec.TokenType = "bearer"
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now().UTC()
	}

	if err := s.backend.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	s.mu.Lock()
	s.record = &rec
	s.notifyLocked(Change{Token: rec.AccessToken, Present: true})
	s.mu.Unlock()
	return nil
}

// Clear removes the token from the slot and from memory. Memory is cleared
// even when the backend delete fails, so the process is logged out either way.
func (s *Store) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx)

	s.mu.Lock()
	wasSet := s.record != nil
	s.record = nil
	if wasSet {
		s.notifyLocked(Change{})
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrNoToken) {
		return fmt.Errorf("remove stored token: %w", err)
	}
	return nil
}

// Subscribe returns a channel of changes and a cancel function.
// Each subscriber sees at least the latest change; intermediate changes may
// be coalesced when the subscriber is slow.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) notifyLocked(c Change) {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}
