// Package ports defines the contract a port must satisfy to be resolved
// and installed, plus the generic port strategies ghjk ships with.
//
// A port only has to list versions, download and install. Everything else
// is optional and falls back to a default:
//
//	LatestStable       last element of ListAll (logged as a warning)
//	ListBinPaths       bin/*
//	ListLibPaths       lib/*
//	ListIncludePaths   include/*
//	ExecEnv            no variables
package ports

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/metatypedev/ghjk/internal/ir"
)

// Port is the minimum a port implementation provides.
type Port interface {
	ListAll(ctx context.Context, args ListAllArgs) ([]string, error)
	Download(ctx context.Context, args InstallArgs) error
	Install(ctx context.Context, args InstallArgs) error
}

// LatestStabler overrides the default latest-version choice.
type LatestStabler interface {
	LatestStable(ctx context.Context, args ListAllArgs) (string, error)
}

// BinPathLister overrides the default bin globs.
type BinPathLister interface {
	ListBinPaths(ctx context.Context, args InstallArgs) ([]string, error)
}

// LibPathLister overrides the default lib globs.
type LibPathLister interface {
	ListLibPaths(ctx context.Context, args InstallArgs) ([]string, error)
}

// IncludePathLister overrides the default include globs.
type IncludePathLister interface {
	ListIncludePaths(ctx context.Context, args InstallArgs) ([]string, error)
}

// EnvExporter exports environment variables for an install.
type EnvExporter interface {
	ExecEnv(ctx context.Context, args InstallArgs) (map[string]string, error)
}

// Platform identifies the host a port runs for.
type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// String renders the platform as "os-arch", the form manifests use.
func (p Platform) String() string { return p.OS + "-" + p.Arch }

// CurrentPlatform returns the host platform with ghjk's arch names.
func CurrentPlatform() Platform {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	return Platform{OS: runtime.GOOS, Arch: arch}
}

// DepArtifacts is what one already-installed dependency exposes to a port.
type DepArtifacts struct {
	InstallPath string            `json:"install_path"`
	Env         map[string]string `json:"env,omitempty"`
	Bin         map[string]string `json:"bin,omitempty"`     // file name -> shim path
	Lib         map[string]string `json:"lib,omitempty"`     // file name -> shim path
	Include     map[string]string `json:"include,omitempty"` // file name -> shim path
}

// DepNamespace is the dependency-artifact namespace handed to port calls:
// the shim root plus per-port artifacts keyed by port name.
type DepNamespace struct {
	ShimDir string                  `json:"shim_dir,omitempty"`
	Ports   map[string]DepArtifacts `json:"ports,omitempty"`
}

// ListAllArgs is passed to version listing.
type ListAllArgs struct {
	Manifest ir.PortManifest  `json:"manifest"`
	Config   ir.InstallConfig `json:"config"`
	Deps     DepNamespace     `json:"deps"`
	Platform Platform         `json:"platform"`
}

// InstallArgs is passed to every call made after version resolution.
type InstallArgs struct {
	Manifest     ir.PortManifest          `json:"manifest"`
	Config       ir.ResolvedInstallConfig `json:"config"`
	Version      string                   `json:"version"`
	InstallPath  string                   `json:"install_path"`
	DownloadPath string                   `json:"download_path"`
	TmpDir       string                   `json:"tmp_dir"`
	Deps         DepNamespace             `json:"deps"`
	Platform     Platform                 `json:"platform"`
}

// LatestStable returns the port's latest stable version, falling back to the
// last listed version.
func LatestStable(ctx context.Context, p Port, args ListAllArgs, log *slog.Logger) (string, error) {
	if ls, ok := p.(LatestStabler); ok {
		return ls.LatestStable(ctx, args)
	}
	return defaultLatestStable(ctx, p, args, log)
}

func defaultLatestStable(ctx context.Context, p Port, args ListAllArgs, log *slog.Logger) (string, error) {
	versions, err := p.ListAll(ctx, args)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("port %s listed no versions", args.Manifest.Name)
	}
	latest := versions[len(versions)-1]
	logger(log).Warn("using default latest stable: last listed version",
		"port", args.Manifest.Name, "version", latest)
	return latest, nil
}

// BinPaths returns the port's bin globs.
func BinPaths(ctx context.Context, p Port, args InstallArgs) ([]string, error) {
	if l, ok := p.(BinPathLister); ok {
		return l.ListBinPaths(ctx, args)
	}
	return []string{"bin/*"}, nil
}

// LibPaths returns the port's lib globs.
func LibPaths(ctx context.Context, p Port, args InstallArgs) ([]string, error) {
	if l, ok := p.(LibPathLister); ok {
		return l.ListLibPaths(ctx, args)
	}
	return []string{"lib/*"}, nil
}

// IncludePaths returns the port's include globs.
func IncludePaths(ctx context.Context, p Port, args InstallArgs) ([]string, error) {
	if l, ok := p.(IncludePathLister); ok {
		return l.ListIncludePaths(ctx, args)
	}
	return []string{"include/*"}, nil
}

// ExecEnv returns the variables the install exports.
func ExecEnv(ctx context.Context, p Port, args InstallArgs) (map[string]string, error) {
	if e, ok := p.(EnvExporter); ok {
		return e.ExecEnv(ctx, args)
	}
	return map[string]string{}, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
