// Package shim builds directories of symlinks that expose exported
// binaries, libraries and headers to a single operation.
package shim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Dir is a shim root holding bin/, lib/ and include/ subdirectories.
type Dir struct {
	Root    string
	Bin     string
	Lib     string
	Include string

	// linked maps a shim path to the target it points at
	linked map[string]string
}

// ConflictError reports two different targets claiming one shim file name.
// It is always fatal.
type ConflictError struct {
	Name     string
	Existing string
	Incoming string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("shim conflict on %q: %s and %s", e.Name, e.Existing, e.Incoming)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// Create makes the shim directory layout under root.
func Create(root string) (*Dir, error) {
	d := &Dir{
		Root:    root,
		Bin:     filepath.Join(root, "bin"),
		Lib:     filepath.Join(root, "lib"),
		Include: filepath.Join(root, "include"),
		linked:  make(map[string]string),
	}
	for _, p := range []string{d.Bin, d.Lib, d.Include} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("create shim dir: %w", err)
		}
	}
	return d, nil
}

// Link symlinks each target into dir under its base name and returns the
// created shim paths keyed by base name.
func (d *Dir) Link(dir string, targets []string) (map[string]string, error) {
	out := make(map[string]string, len(targets))
	for _, target := range targets {
		name := filepath.Base(target)
		shimPath := filepath.Join(dir, name)
		if existing, ok := d.linked[shimPath]; ok {
			if existing == target {
				out[name] = shimPath
				continue
			}
			return nil, &ConflictError{Name: name, Existing: existing, Incoming: target}
		}
		if err := os.Symlink(target, shimPath); err != nil {
			return nil, fmt.Errorf("link shim %s: %w", name, err)
		}
		d.linked[shimPath] = target
		out[name] = shimPath
	}
	return out, nil
}

// ExpandGlobs resolves globs relative to base (absolute globs are used
// as-is) and returns the sorted, de-duplicated matches. Globs matching
// nothing are skipped.
func ExpandGlobs(base string, globs []string) ([]string, error) {
	var out []string
	for _, g := range globs {
		pattern := g
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(base, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", g, err)
		}
		out = append(out, matches...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
