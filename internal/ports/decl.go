package ports

import (
	"fmt"

	"github.com/metatypedev/ghjk/internal/ir"
)

// Strategy names accepted in a port declaration.
const (
	StrategyAmbient   = "ambient"
	StrategySandboxed = "sandboxed"
	StrategyFile      = "file"
)

// Decl is a port as declared in a ghjkfile: the manifest fields plus the
// settings of one strategy.
type Decl struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Strategy       string   `json:"strategy"`
	Platforms      []string `json:"platforms,omitempty"`
	BuildDeps      []string `json:"build_deps,omitempty"`
	ResolutionDeps []string `json:"resolution_deps,omitempty"`

	Ambient   *AmbientConfig `json:"ambient,omitempty"`
	Sandboxed *SandboxConfig `json:"sandboxed,omitempty"`
	File      *FileConfig    `json:"file,omitempty"`
}

// SandboxConfig names the program a sandboxed port runs per call.
type SandboxConfig struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
}

// Manifest derives the port manifest from d.
func (d Decl) Manifest() ir.PortManifest {
	kind := ir.PortKindBuiltin
	switch d.Strategy {
	case StrategyAmbient:
		kind = ir.PortKindAmbient
	case StrategySandboxed:
		kind = ir.PortKindSandboxed
	}
	version := d.Version
	if version == "" {
		version = "0.1.0"
	}
	return ir.PortManifest{
		Name:           d.Name,
		Version:        version,
		Kind:           kind,
		Platforms:      d.Platforms,
		BuildDeps:      d.BuildDeps,
		ResolutionDeps: d.ResolutionDeps,
	}
}

// RegisterDecl builds the port d describes and registers it. fetcher is
// only needed by file ports.
func (r *Registry) RegisterDecl(d Decl, fetcher *Fetcher) error {
	var (
		p   Port
		err error
	)
	switch d.Strategy {
	case StrategyAmbient:
		if d.Ambient == nil {
			return fmt.Errorf("port %q: ambient settings missing", d.Name)
		}
		p, err = NewAmbientPort(*d.Ambient)
	case StrategySandboxed:
		if d.Sandboxed == nil || d.Sandboxed.Program == "" {
			return fmt.Errorf("port %q: sandboxed program missing", d.Name)
		}
		p = &SandboxedPort{Program: d.Sandboxed.Program, Args: d.Sandboxed.Args}
	case StrategyFile:
		if d.File == nil {
			return fmt.Errorf("port %q: file settings missing", d.Name)
		}
		p, err = NewFilePort(*d.File, fetcher)
	default:
		return fmt.Errorf("port %q: unknown strategy %q", d.Name, d.Strategy)
	}
	if err != nil {
		return fmt.Errorf("port %q: %w", d.Name, err)
	}
	return r.Register(d.Manifest(), p)
}
