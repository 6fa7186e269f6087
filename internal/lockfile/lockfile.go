// Package lockfile persists version resolutions between runs in ghjk.lock.
package lockfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/metatypedev/ghjk/internal/ir"
)

// FileName is the lockfile name inside the ghjk dir.
const FileName = "ghjk.lock"

// Version is the lockfile format version.
const Version = 1

// Lockfile maps the hash of an unresolved install config to its resolution,
// and records the hash of the last compiled module config.
type Lockfile struct {
	Version     int                                 `yaml:"version"`
	ModuleHash  string                              `yaml:"module_hash,omitempty"`
	Resolutions map[string]ir.ResolvedInstallConfig `yaml:"resolutions,omitempty"`

	path  string
	dirty bool
}

// New returns an empty lockfile that will be saved at path.
func New(path string) *Lockfile {
	return &Lockfile{Version: Version, path: path, Resolutions: make(map[string]ir.ResolvedInstallConfig)}
}

// Load reads path. A missing file yields an empty lockfile.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}

	lf := New(path)
	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parse lockfile %s: %w", path, err)
	}
	if lf.Version != Version {
		return nil, fmt.Errorf("lockfile %s: unsupported version %d", path, lf.Version)
	}
	if lf.Resolutions == nil {
		lf.Resolutions = make(map[string]ir.ResolvedInstallConfig)
	}
	return lf, nil
}

// Path returns where the lockfile is saved.
func (l *Lockfile) Path() string { return l.path }

// Dirty reports whether there are unsaved changes.
func (l *Lockfile) Dirty() bool { return l.dirty }

// Resolution returns the recorded resolution for an unresolved config hash.
func (l *Lockfile) Resolution(hash string) (ir.ResolvedInstallConfig, bool) {
	cfg, ok := l.Resolutions[hash]
	return cfg, ok
}

// SetResolution records a resolution.
func (l *Lockfile) SetResolution(hash string, cfg ir.ResolvedInstallConfig) {
	l.Resolutions[hash] = cfg
	l.dirty = true
}

// SetModuleHash records the hash of the compiled module config.
func (l *Lockfile) SetModuleHash(hash string) {
	if l.ModuleHash != hash {
		l.ModuleHash = hash
		l.dirty = true
	}
}

// Prune drops resolutions whose hash is not in keep.
func (l *Lockfile) Prune(keep map[string]bool) int {
	n := 0
	for h := range l.Resolutions {
		if !keep[h] {
			delete(l.Resolutions, h)
			n++
		}
	}
	if n > 0 {
		l.dirty = true
	}
	return n
}

// Save writes the lockfile atomically if it has changed.
func (l *Lockfile) Save() error {
	if !l.dirty {
		return nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("encode lockfile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode lockfile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	l.dirty = false
	return nil
}
