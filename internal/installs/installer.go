// Package installs resolves install sets into a dependency graph of
// version-pinned installs and materializes them through a resumable
// download/install pipeline backed by the Install DB.
package installs

import (
	"context"
	"log/slog"

	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/store"
)

// Options configures an Installer.
type Options struct {
	// Handle, when set, is retained for the installer's lifetime and
	// supplies DB. Close releases it.
	Handle   *store.Handle
	DB       store.InstallsDB
	Registry *ports.Registry
	Lock     *lockfile.Lockfile // optional
	DataDir  string
	Platform ports.Platform
	Retry    ports.RetryPolicy
	Log      *slog.Logger
}

// Installer pairs a Resolver with the Pipeline it installs resolution deps
// through.
type Installer struct {
	Resolver *Resolver
	Pipeline *Pipeline

	handle *store.Handle
}

// New wires a Resolver and Pipeline sharing opts.
func New(opts Options) *Installer {
	var handle *store.Handle
	if opts.Handle != nil {
		if st := opts.Handle.Retain(); st != nil {
			handle = opts.Handle
			opts.DB = st
		}
	}
	if opts.Platform == (ports.Platform{}) {
		opts.Platform = ports.CurrentPlatform()
	}
	if opts.Retry == (ports.RetryPolicy{}) {
		opts.Retry = ports.DefaultRetryPolicy
	}
	p := &Pipeline{
		DB:       opts.DB,
		Registry: opts.Registry,
		DataDir:  opts.DataDir,
		Platform: opts.Platform,
		Retry:    opts.Retry,
		Log:      opts.Log,
	}
	r := &Resolver{
		Registry: opts.Registry,
		Lock:     opts.Lock,
		Platform: opts.Platform,
		Log:      opts.Log,
		pipeline: p,
	}
	return &Installer{Resolver: r, Pipeline: p, handle: handle}
}

// Close releases the installer's reference to its store handle. It is safe
// to call more than once.
func (in *Installer) Close() error {
	if in.handle == nil {
		return nil
	}
	h := in.handle
	in.handle = nil
	return h.Release()
}

// Sync resolves set, installs its graph and returns the graph together with
// the artifacts of every node.
func (in *Installer) Sync(ctx context.Context, set ir.InstallSet) (*InstallGraph, map[string]ir.InstallArtifacts, error) {
	g, err := in.Resolver.BuildGraph(ctx, set)
	if err != nil {
		return nil, nil, err
	}
	arts, err := in.Pipeline.InstallGraph(ctx, g)
	if err != nil {
		return nil, nil, err
	}
	return g, arts, nil
}
