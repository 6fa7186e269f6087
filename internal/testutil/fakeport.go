// Package testutil provides in-process ports for exercising the install
// pipeline without network or subprocess access.
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/ports"
)

// Call is one recorded port invocation.
type Call struct {
	Method  string
	Version string
	Deps    ports.DepNamespace
}

// FakePort lists fixed versions and "installs" by writing tiny shell
// scripts into bin/. Every call is recorded.
//
// Thread-safety: FakePort is safe for concurrent use via internal mutex.
type FakePort struct {
	Versions []string
	Bins     []string          // executables created under bin/ on install
	Env      map[string]string // returned from ExecEnv

	// FailDownloads makes the next n downloads fail.
	FailDownloads int

	mu    sync.Mutex
	calls []Call
}

var _ ports.EnvExporter = (*FakePort)(nil)

func (f *FakePort) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of the recorded calls.
func (f *FakePort) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times method was called.
func (f *FakePort) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (f *FakePort) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakePort) ListAll(_ context.Context, args ports.ListAllArgs) ([]string, error) {
	f.record(Call{Method: ports.MethodListAll, Deps: args.Deps})
	return append([]string(nil), f.Versions...), nil
}

func (f *FakePort) Download(_ context.Context, args ports.InstallArgs) error {
	f.record(Call{Method: ports.MethodDownload, Version: args.Version, Deps: args.Deps})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDownloads > 0 {
		f.FailDownloads--
		return errors.New("fake download failure")
	}
	return os.WriteFile(filepath.Join(args.DownloadPath, "archive"), []byte(args.Version), 0o644)
}

func (f *FakePort) Install(_ context.Context, args ports.InstallArgs) error {
	f.record(Call{Method: ports.MethodInstall, Version: args.Version, Deps: args.Deps})
	bin := filepath.Join(args.InstallPath, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		return err
	}
	for _, name := range f.Bins {
		script := "#!/bin/sh\necho " + name + " " + args.Version + "\n"
		if err := os.WriteFile(filepath.Join(bin, name), []byte(script), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakePort) ExecEnv(context.Context, ports.InstallArgs) (map[string]string, error) {
	return f.Env, nil
}

// Registry builds a registry from name -> (manifest, port) pairs. Missing
// manifest names and kinds are filled in.
func Registry(entries map[string]Entry) (*ports.Registry, error) {
	r := ports.NewRegistry()
	for name, e := range entries {
		m := e.Manifest
		m.Name = name
		if m.Version == "" {
			m.Version = "0.1.0"
		}
		if m.Kind == "" {
			m.Kind = ir.PortKindBuiltin
		}
		if err := r.Register(m, e.Port); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Entry is a manifest and implementation for Registry.
type Entry struct {
	Manifest ir.PortManifest
	Port     ports.Port
}
