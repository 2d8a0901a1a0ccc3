package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores the token envelope as a JSON file readable only by the
// current user.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// DefaultPath returns ~/.config/rebelz/token.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rebelz", "token.json"), nil
}

// NewFileBackend returns a backend rooted at path (DefaultPath when empty).
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileBackend{path: path}, nil
}

// Path returns the token file location.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load(_ context.Context) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token file %s: %w", b.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", b.path, err)
	}
	if rec.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &rec, nil
}

func (b *FileBackend) Save(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoToken
		}
		return fmt.Errorf("failed to remove token file %s: %w", b.path, err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

// MemoryBackend keeps the slot in process memory only.
type MemoryBackend struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryBackend returns an empty in-memory slot.
func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Load(_ context.Context) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return nil, ErrNoToken
	}
	rec := *b.rec
	return &rec, nil
}

func (b *MemoryBackend) Save(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = &rec
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return ErrNoToken
	}
	b.rec = nil
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
