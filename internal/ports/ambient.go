package ports

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
)

// AmbientConfig describes a binary that is expected to already be on the host.
type AmbientConfig struct {
	ExecName     string   `json:"exec_name"`
	VersionArgs  []string `json:"version_args"`
	VersionRegex string   `json:"version_regex"` // first capture group, or the whole match
}

// AmbientPort "installs" a pre-existing binary by probing its version.
// Download and Install are no-ops; the exported bin path is the binary itself.
type AmbientPort struct {
	cfg AmbientConfig
	re  *regexp.Regexp
}

// NewAmbientPort validates cfg and compiles its version regex.
func NewAmbientPort(cfg AmbientConfig) (*AmbientPort, error) {
	if cfg.ExecName == "" {
		return nil, fmt.Errorf("ambient port: exec_name is required")
	}
	if len(cfg.VersionArgs) == 0 {
		cfg.VersionArgs = []string{"--version"}
	}
	if cfg.VersionRegex == "" {
		cfg.VersionRegex = `(\d+\.\d+\.\d+)`
	}
	re, err := regexp.Compile(cfg.VersionRegex)
	if err != nil {
		return nil, fmt.Errorf("ambient port %s: version regex: %w", cfg.ExecName, err)
	}
	return &AmbientPort{cfg: cfg, re: re}, nil
}

func (p *AmbientPort) execPath() (string, error) {
	path, err := exec.LookPath(p.cfg.ExecName)
	if err != nil {
		return "", fmt.Errorf("ambient port: %s not found on PATH: %w", p.cfg.ExecName, err)
	}
	return path, nil
}

// ListAll returns the single version the host binary reports.
func (p *AmbientPort) ListAll(ctx context.Context, _ ListAllArgs) ([]string, error) {
	path, err := p.execPath()
	if err != nil {
		return nil, err
	}
	out, err := exec.CommandContext(ctx, path, p.cfg.VersionArgs...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ambient port: probe %s: %w", p.cfg.ExecName, err)
	}
	m := p.re.FindStringSubmatch(string(out))
	if m == nil {
		return nil, fmt.Errorf("ambient port: no version matching %q in output of %s", p.cfg.VersionRegex, p.cfg.ExecName)
	}
	if len(m) > 1 {
		return []string{m[1]}, nil
	}
	return []string{m[0]}, nil
}

// LatestStable is the probed version. No warning: there is only one.
func (p *AmbientPort) LatestStable(ctx context.Context, args ListAllArgs) (string, error) {
	versions, err := p.ListAll(ctx, args)
	if err != nil {
		return "", err
	}
	return versions[0], nil
}

// Download is a no-op.
func (p *AmbientPort) Download(context.Context, InstallArgs) error { return nil }

// Install is a no-op.
func (p *AmbientPort) Install(context.Context, InstallArgs) error { return nil }

// ListBinPaths exports the host binary by absolute path.
func (p *AmbientPort) ListBinPaths(context.Context, InstallArgs) ([]string, error) {
	path, err := p.execPath()
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// ListLibPaths exports nothing.
func (p *AmbientPort) ListLibPaths(context.Context, InstallArgs) ([]string, error) {
	return nil, nil
}

// ListIncludePaths exports nothing.
func (p *AmbientPort) ListIncludePaths(context.Context, InstallArgs) ([]string, error) {
	return nil, nil
}
