package installs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/store"
)

// Pipeline downloads and installs the nodes of an InstallGraph, recording
// each completed stage in the Install DB so no stage ever runs twice.
type Pipeline struct {
	DB       store.InstallsDB
	Registry *ports.Registry
	DataDir  string
	Platform ports.Platform
	Retry    ports.RetryPolicy
	Log      *slog.Logger
}

// InstallPath is where the install stage of id writes.
func (p *Pipeline) InstallPath(port, id string) string {
	return filepath.Join(p.DataDir, "installs", port, id)
}

// DownloadPath is where the download stage of id writes.
func (p *Pipeline) DownloadPath(port, id string) string {
	return filepath.Join(p.DataDir, "downloads", port, id)
}

func (p *Pipeline) tmpRoot() (string, error) {
	dir := filepath.Join(p.DataDir, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (p *Pipeline) log() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

// InstallGraph walks g dependencies-first and returns the artifacts of
// every node keyed by install id.
func (p *Pipeline) InstallGraph(ctx context.Context, g *InstallGraph) (map[string]ir.InstallArtifacts, error) {
	artifacts := make(map[string]ir.InstallArtifacts, len(g.All))
	err := graph.Walk(ctx, g.DAG, func(ctx context.Context, id string) error {
		art, err := p.installNode(ctx, g, id, artifacts)
		if err != nil {
			return err
		}
		artifacts[id] = *art
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (p *Pipeline) installNode(ctx context.Context, g *InstallGraph, id string, done map[string]ir.InstallArtifacts) (*ir.InstallArtifacts, error) {
	cfg, ok := g.All[id]
	if !ok {
		return nil, &graph.InvariantError{Message: "install id missing from graph", Pending: []string{id}}
	}
	log := p.log().With("port", cfg.Port, "version", cfg.Version, "install_id", short(id))

	row, err := p.DB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row != nil && row.Progress == ir.ProgressInstalled && row.InstallArtifacts != nil {
		log.Debug("already installed, skipping")
		return row.InstallArtifacts, nil
	}

	entry, err := p.Registry.Get(cfg.Port)
	if err != nil {
		return nil, err
	}
	manifest := g.Ports[cfg.Port]
	if manifest.Name == "" {
		manifest = entry.Manifest
	}

	root, err := p.tmpRoot()
	if err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp(root, cfg.Port+"-")
	if err != nil {
		return nil, fmt.Errorf("create tmp dir for %s: %w", cfg.Port, err)
	}
	defer os.RemoveAll(tmp)

	deps := make(map[string]ir.InstallArtifacts, len(manifest.BuildDeps))
	for _, name := range manifest.BuildDeps {
		depID, ok := g.DepID(id, name)
		if !ok {
			return nil, &UnknownDepError{Port: cfg.Port, Dep: name, Kind: "build"}
		}
		art, ok := done[depID]
		if !ok {
			return nil, &graph.InvariantError{Message: "dependency visited after dependent", Pending: []string{depID}}
		}
		deps[name] = art
	}
	ns, err := LinkDeps(filepath.Join(tmp, "shims"), deps)
	if err != nil {
		return nil, err
	}

	args := ports.InstallArgs{
		Manifest:     manifest,
		Config:       cfg,
		Version:      cfg.Version,
		InstallPath:  p.InstallPath(cfg.Port, id),
		DownloadPath: p.DownloadPath(cfg.Port, id),
		TmpDir:       tmp,
		Deps:         ns,
		Platform:     p.Platform,
	}

	if row == nil || row.Progress != ir.ProgressDownloaded {
		log.Info("downloading")
		if err := os.MkdirAll(args.DownloadPath, 0o755); err != nil {
			return nil, err
		}
		err := ports.Retry(ctx, p.Retry, log, "download "+cfg.Port, func() error {
			return entry.Port.Download(ctx, args)
		})
		if err != nil {
			return nil, fmt.Errorf("download %s@%s: %w", cfg.Port, cfg.Version, err)
		}
		row = &ir.InstallRow{
			InstallID:         id,
			Config:            cfg,
			Manifest:          manifest,
			DownloadArtifacts: &ir.DownloadArtifacts{DownloadPath: args.DownloadPath},
			Progress:          ir.ProgressDownloaded,
		}
		if err := p.DB.Set(ctx, *row); err != nil {
			return nil, err
		}
	} else {
		log.Debug("already downloaded, resuming at install")
	}

	log.Info("installing")
	// a previous run may have died mid-install
	if err := os.RemoveAll(args.InstallPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(args.InstallPath, 0o755); err != nil {
		return nil, err
	}
	if err := entry.Port.Install(ctx, args); err != nil {
		return nil, fmt.Errorf("install %s@%s: %w", cfg.Port, cfg.Version, err)
	}

	art, err := p.collectArtifacts(ctx, entry.Port, args)
	if err != nil {
		return nil, fmt.Errorf("artifacts of %s@%s: %w", cfg.Port, cfg.Version, err)
	}
	row.InstallArtifacts = art
	row.Progress = ir.ProgressInstalled
	if err := p.DB.Set(ctx, *row); err != nil {
		return nil, err
	}
	return art, nil
}

func (p *Pipeline) collectArtifacts(ctx context.Context, port ports.Port, args ports.InstallArgs) (*ir.InstallArtifacts, error) {
	bin, err := ports.BinPaths(ctx, port, args)
	if err != nil {
		return nil, err
	}
	lib, err := ports.LibPaths(ctx, port, args)
	if err != nil {
		return nil, err
	}
	include, err := ports.IncludePaths(ctx, port, args)
	if err != nil {
		return nil, err
	}
	env, err := ports.ExecEnv(ctx, port, args)
	if err != nil {
		return nil, err
	}
	return &ir.InstallArtifacts{
		Env:          env,
		InstallPath:  args.InstallPath,
		DownloadPath: args.DownloadPath,
		BinPaths:     bin,
		LibPaths:     lib,
		IncludePaths: include,
	}, nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
