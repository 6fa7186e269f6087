package ports

import (
	"errors"
	"fmt"
	"slices"

	"github.com/metatypedev/ghjk/internal/ir"
)

// UnknownPortError reports a reference to a port that was never registered.
type UnknownPortError struct {
	Name string
}

func (e *UnknownPortError) Error() string {
	return fmt.Sprintf("unknown port %q", e.Name)
}

// IsUnknownPort returns true if err wraps an *UnknownPortError.
func IsUnknownPort(err error) bool {
	var ue *UnknownPortError
	return errors.As(err, &ue)
}

// Entry pairs a manifest with its implementation.
type Entry struct {
	Manifest ir.PortManifest
	Port     Port
}

// Registry maps port names to their implementations.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a port. Names must be unique.
func (r *Registry) Register(manifest ir.PortManifest, p Port) error {
	if manifest.Name == "" {
		return errors.New("port manifest name is required")
	}
	if _, exists := r.entries[manifest.Name]; exists {
		return fmt.Errorf("port %q registered twice", manifest.Name)
	}
	r.entries[manifest.Name] = Entry{Manifest: manifest, Port: p}
	return nil
}

// Get returns the named port or an *UnknownPortError.
func (r *Registry) Get(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, &UnknownPortError{Name: name}
	}
	return e, nil
}

// Names returns the registered port names in ascending order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
