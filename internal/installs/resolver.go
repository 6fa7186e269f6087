package installs

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
)

// Resolver pins install configs to concrete versions.
//
// Results are memoized for the life of the Resolver, keyed by the hash of
// the unresolved config, and persisted to the lockfile when one is set.
type Resolver struct {
	Registry *ports.Registry
	Lock     *lockfile.Lockfile
	Platform ports.Platform
	Log      *slog.Logger

	pipeline *Pipeline
	memo     map[string]ir.ResolvedInstallConfig
}

func (r *Resolver) log() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// Resolve pins cfg and all of its dependency configs.
func (r *Resolver) Resolve(ctx context.Context, set ir.InstallSet, cfg ir.InstallConfig) (ir.ResolvedInstallConfig, error) {
	return r.resolve(ctx, set, cfg, nil)
}

func (r *Resolver) resolve(ctx context.Context, set ir.InstallSet, cfg ir.InstallConfig, chain []string) (ir.ResolvedInstallConfig, error) {
	var out ir.ResolvedInstallConfig

	if i := slices.Index(chain, cfg.Port); i >= 0 {
		cycle := append(slices.Clone(chain[i:]), cfg.Port)
		return out, &graph.CycleError{From: chain[len(chain)-1], To: cfg.Port, Chain: cycle}
	}

	hash, err := ir.InstallConfigHash(cfg)
	if err != nil {
		return out, err
	}
	if r.memo == nil {
		r.memo = make(map[string]ir.ResolvedInstallConfig)
	}
	if hit, ok := r.memo[hash]; ok {
		return hit, nil
	}
	if r.Lock != nil {
		if hit, ok := r.Lock.Resolution(hash); ok {
			r.log().Debug("resolution from lockfile", "port", cfg.Port, "version", hit.Version)
			r.memo[hash] = hit
			return hit, nil
		}
	}

	entry, err := r.Registry.Get(cfg.Port)
	if err != nil {
		return out, err
	}
	manifest := entry.Manifest
	if platform := r.Platform.String(); !manifest.SupportsPlatform(platform) {
		return out, &UnsupportedPlatformError{Port: cfg.Port, Platform: platform, Supported: manifest.Platforms}
	}
	chain = append(chain, cfg.Port)

	resDeps, err := r.resolveDeps(ctx, set, cfg.Port, manifest.ResolutionDeps, cfg.ResolutionDepConfigs, "resolution", chain)
	if err != nil {
		return out, err
	}

	version, err := r.withResolutionDeps(ctx, set, cfg.Port, resDeps, func(ns ports.DepNamespace) (string, error) {
		args := ports.ListAllArgs{Manifest: manifest, Config: cfg, Deps: ns, Platform: r.Platform}
		return r.pickVersion(ctx, entry.Port, args, cfg.Version)
	})
	if err != nil {
		return out, err
	}

	buildDeps, err := r.resolveDeps(ctx, set, cfg.Port, manifest.BuildDeps, cfg.BuildDepConfigs, "build", chain)
	if err != nil {
		return out, err
	}

	out = ir.ResolvedInstallConfig{
		Port:                 cfg.Port,
		Version:              version,
		Options:              cfg.Options,
		BuildDepConfigs:      buildDeps,
		ResolutionDepConfigs: resDeps,
	}
	r.memo[hash] = out
	if r.Lock != nil {
		r.Lock.SetResolution(hash, out)
	}
	r.log().Debug("resolved", "port", cfg.Port, "requested", cfg.Version, "version", version)
	return out, nil
}

// depConfig picks the config for dep: an override on the dependent, else
// the allowed dep's default.
func depConfig(set ir.InstallSet, port, dep, kind string, overrides map[string]ir.InstallConfig) (ir.InstallConfig, error) {
	allowed, ok := set.AllowedBuildDeps[dep]
	if !ok {
		return ir.InstallConfig{}, &UnknownDepError{Port: port, Dep: dep, Kind: kind}
	}
	if o, ok := overrides[dep]; ok {
		if o.Port == "" {
			o.Port = dep
		}
		return o, nil
	}
	cfg := allowed.DefaultConfig
	if cfg.Port == "" {
		cfg.Port = dep
	}
	return cfg, nil
}

func (r *Resolver) resolveDeps(ctx context.Context, set ir.InstallSet, port string, names []string, overrides map[string]ir.InstallConfig, kind string, chain []string) (map[string]ir.ResolvedInstallConfig, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string]ir.ResolvedInstallConfig, len(names))
	for _, dep := range names {
		cfg, err := depConfig(set, port, dep, kind, overrides)
		if err != nil {
			return nil, err
		}
		resolved, err := r.resolve(ctx, set, cfg, chain)
		if err != nil {
			return nil, fmt.Errorf("%s dependency %s of %s: %w", kind, dep, port, err)
		}
		out[dep] = resolved
	}
	return out, nil
}

// withResolutionDeps installs deps, shims them into a throwaway namespace
// for the duration of fn, and removes the namespace afterwards.
func (r *Resolver) withResolutionDeps(ctx context.Context, set ir.InstallSet, port string, deps map[string]ir.ResolvedInstallConfig, fn func(ports.DepNamespace) (string, error)) (string, error) {
	if len(deps) == 0 {
		return fn(ports.DepNamespace{})
	}
	if r.pipeline == nil {
		return "", fmt.Errorf("port %s has resolution deps but no pipeline is configured", port)
	}

	g := NewInstallGraph()
	roots := make([]ir.ResolvedInstallConfig, 0, len(deps))
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		roots = append(roots, deps[name])
	}
	if err := r.expand(g, roots); err != nil {
		return "", err
	}
	installed, err := r.pipeline.InstallGraph(ctx, g)
	if err != nil {
		return "", fmt.Errorf("install resolution deps of %s: %w", port, err)
	}

	arts := make(map[string]ir.InstallArtifacts, len(deps))
	for name, cfg := range deps {
		id, err := ir.InstallID(cfg)
		if err != nil {
			return "", err
		}
		arts[name] = installed[id]
	}

	root, err := r.pipeline.tmpRoot()
	if err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(root, port+"-resolve-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	ns, err := LinkDeps(filepath.Join(tmp, "shims"), arts)
	if err != nil {
		return "", err
	}
	return fn(ns)
}

func (r *Resolver) pickVersion(ctx context.Context, port ports.Port, args ports.ListAllArgs, requested string) (string, error) {
	if requested == "" {
		return ports.LatestStable(ctx, port, args, r.Log)
	}
	versions, err := port.ListAll(ctx, args)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", args.Manifest.Name, err)
	}
	return MatchVersion(args.Manifest.Name, requested, versions)
}

// MatchVersion accepts an exact match, then a "v"-prefixed match.
func MatchVersion(port, requested string, available []string) (string, error) {
	if slices.Contains(available, requested) {
		return requested, nil
	}
	if slices.Contains(available, "v"+requested) {
		return "v" + requested, nil
	}
	return "", &VersionNotFoundError{Port: port, Requested: requested, Available: slices.Clone(available)}
}

// BuildGraph resolves every user install of set and assembles the
// dependency graph among them and their build deps.
func (r *Resolver) BuildGraph(ctx context.Context, set ir.InstallSet) (*InstallGraph, error) {
	g := NewInstallGraph()
	first := make(map[string]int, len(set.Installs))
	roots := make([]ir.ResolvedInstallConfig, 0, len(set.Installs))

	for i, cfg := range set.Installs {
		resolved, err := r.Resolve(ctx, set, cfg)
		if err != nil {
			return nil, err
		}
		id, err := ir.InstallID(resolved)
		if err != nil {
			return nil, err
		}
		if j, dup := first[id]; dup {
			return nil, &DuplicateInstallError{InstallID: id, Port: cfg.Port, First: j, Second: i}
		}
		first[id] = i
		g.User = append(g.User, id)
		roots = append(roots, resolved)
	}

	if err := r.expand(g, roots); err != nil {
		return nil, err
	}
	return g, nil
}

// expand adds roots and their transitive build deps to g, then rejects cycles.
func (r *Resolver) expand(g *InstallGraph, roots []ir.ResolvedInstallConfig) error {
	queue := slices.Clone(roots)
	for len(queue) > 0 {
		cfg := queue[0]
		queue = queue[1:]

		id, err := ir.InstallID(cfg)
		if err != nil {
			return err
		}
		if _, seen := g.All[id]; seen {
			continue
		}
		entry, err := r.Registry.Get(cfg.Port)
		if err != nil {
			return err
		}
		g.All[id] = cfg
		g.Ports[cfg.Port] = entry.Manifest
		g.AddNode(id)

		for _, dep := range entry.Manifest.BuildDeps {
			depCfg, ok := cfg.BuildDepConfigs[dep]
			if !ok {
				return &UnknownDepError{Port: cfg.Port, Dep: dep, Kind: "build"}
			}
			depID, err := ir.InstallID(depCfg)
			if err != nil {
				return err
			}
			g.AddEdge(id, depID)
			queue = append(queue, depCfg)
		}
	}
	return g.Validate()
}
