// Package preferences persists client-side UI preferences: the view mode and
// the command to return to after signing in.
package preferences

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/KobaKhit/rebelzapp-sub001/internal/navigation"
)

// Prefs is the on-disk document.
type Prefs struct {
	ViewMode navigation.Mode `yaml:"view_mode,omitempty"`
	ReturnTo string          `yaml:"return_to,omitempty"`
}

// DefaultPath returns ~/.config/rebelz/preferences.yaml, honouring
// XDG_CONFIG_HOME.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), ".config")
	}
	return filepath.Join(dir, "rebelz", "preferences.yaml")
}

// File is a preferences file. A missing file reads as empty preferences.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns the preferences file at path, or DefaultPath when empty.
func Open(path string) *File {
	if path == "" {
		path = DefaultPath()
	}
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load reads the file.
func (f *File) Load() (Prefs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *File) loadLocked() (Prefs, error) {
	var p Prefs
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("parse preferences: %w", err)
	}
	return p, nil
}

// Update applies fn to the stored preferences and writes the result.
func (f *File) Update(fn func(*Prefs)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.loadLocked()
	if err != nil {
		return err
	}
	fn(&p)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// ViewMode implements navigation.ModeStore. Unknown values read as unset.
func (f *File) ViewMode() (navigation.Mode, error) {
	p, err := f.Load()
	if err != nil {
		return "", err
	}
	m, err := navigation.ParseMode(string(p.ViewMode))
	if err != nil {
		return "", nil
	}
	return m, nil
}

// SetViewMode implements navigation.ModeStore.
func (f *File) SetViewMode(m navigation.Mode) error {
	return f.Update(func(p *Prefs) { p.ViewMode = m })
}

// RememberReturn stores the command a login redirect interrupted.
func (f *File) RememberReturn(cmd string) error {
	return f.Update(func(p *Prefs) { p.ReturnTo = cmd })
}

// TakeReturn returns and clears the remembered command.
func (f *File) TakeReturn() (string, error) {
	var cmd string
	err := f.Update(func(p *Prefs) {
		cmd = p.ReturnTo
		p.ReturnTo = ""
	})
	return cmd, err
}
