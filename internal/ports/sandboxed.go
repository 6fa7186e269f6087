package ports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Sandboxed port methods, passed as the last argv element.
const (
	MethodListAll          = "list_all"
	MethodLatestStable     = "latest_stable"
	MethodListBinPaths     = "list_bin_paths"
	MethodListLibPaths     = "list_lib_paths"
	MethodListIncludePaths = "list_include_paths"
	MethodExecEnv          = "exec_env"
	MethodDownload         = "download"
	MethodInstall          = "install"
)

// SandboxedPort runs untrusted port code in a freshly spawned subprocess per
// call: one JSON request on stdin, one JSON response on stdout, then the
// process exits. Nothing is shared between calls.
//
// Responses are objects with the field matching the call:
//
//	{"versions": [...]}   list_all
//	{"version": "..."}    latest_stable (empty selects the default)
//	{"paths": [...]}      list_*_paths (absent selects the default)
//	{"env": {...}}        exec_env
//	{}                    download, install
type SandboxedPort struct {
	Program string
	Args    []string
	Env     []string // nil inherits nothing but PATH and HOME
	Log     *slog.Logger
}

type sandboxRequest struct {
	Method string `json:"method"`
	Args   any    `json:"args"`
}

type sandboxResponse struct {
	Versions []string          `json:"versions"`
	Version  string            `json:"version"`
	Paths    *[]string         `json:"paths"`
	Env      map[string]string `json:"env"`
}

// SandboxError carries the stderr of a failed sandboxed call.
type SandboxError struct {
	Program string
	Method  string
	Stderr  string
	Err     error
}

func (e *SandboxError) Error() string {
	msg := fmt.Sprintf("sandboxed port %s %s: %v", e.Program, e.Method, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *SandboxError) Unwrap() error { return e.Err }

func (p *SandboxedPort) env() []string {
	if p.Env != nil {
		return p.Env
	}
	return []string{"PATH=" + os.Getenv("PATH"), "HOME=" + os.Getenv("HOME")}
}

func (p *SandboxedPort) call(ctx context.Context, method string, args any) (*sandboxResponse, error) {
	req, err := json.Marshal(sandboxRequest{Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("sandboxed port: encode request: %w", err)
	}

	argv := append(append([]string{}, p.Args...), method)
	cmd := exec.CommandContext(ctx, p.Program, argv...)
	cmd.Env = p.env()
	cmd.Stdin = bytes.NewReader(req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger(p.Log).Debug("sandboxed port call", "program", p.Program, "method", method)
	if err := cmd.Run(); err != nil {
		return nil, &SandboxError{Program: p.Program, Method: method, Stderr: stderr.String(), Err: err}
	}

	resp := &sandboxResponse{}
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, resp); err != nil {
			return nil, &SandboxError{Program: p.Program, Method: method, Stderr: stderr.String(), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp, nil
}

// ListAll implements Port.
func (p *SandboxedPort) ListAll(ctx context.Context, args ListAllArgs) ([]string, error) {
	resp, err := p.call(ctx, MethodListAll, args)
	if err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// LatestStable asks the plugin, falling back to the default on an empty answer.
func (p *SandboxedPort) LatestStable(ctx context.Context, args ListAllArgs) (string, error) {
	resp, err := p.call(ctx, MethodLatestStable, args)
	if err != nil {
		return "", err
	}
	if resp.Version != "" {
		return resp.Version, nil
	}
	return defaultLatestStable(ctx, p, args, p.Log)
}

func (p *SandboxedPort) paths(ctx context.Context, method string, args InstallArgs, def string) ([]string, error) {
	resp, err := p.call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	if resp.Paths == nil {
		return []string{def}, nil
	}
	return *resp.Paths, nil
}

// ListBinPaths implements BinPathLister.
func (p *SandboxedPort) ListBinPaths(ctx context.Context, args InstallArgs) ([]string, error) {
	return p.paths(ctx, MethodListBinPaths, args, "bin/*")
}

// ListLibPaths implements LibPathLister.
func (p *SandboxedPort) ListLibPaths(ctx context.Context, args InstallArgs) ([]string, error) {
	return p.paths(ctx, MethodListLibPaths, args, "lib/*")
}

// ListIncludePaths implements IncludePathLister.
func (p *SandboxedPort) ListIncludePaths(ctx context.Context, args InstallArgs) ([]string, error) {
	return p.paths(ctx, MethodListIncludePaths, args, "include/*")
}

// ExecEnv implements EnvExporter.
func (p *SandboxedPort) ExecEnv(ctx context.Context, args InstallArgs) (map[string]string, error) {
	resp, err := p.call(ctx, MethodExecEnv, args)
	if err != nil {
		return nil, err
	}
	if resp.Env == nil {
		return map[string]string{}, nil
	}
	return resp.Env, nil
}

// Download implements Port.
func (p *SandboxedPort) Download(ctx context.Context, args InstallArgs) error {
	_, err := p.call(ctx, MethodDownload, args)
	return err
}

// Install implements Port.
func (p *SandboxedPort) Install(ctx context.Context, args InstallArgs) error {
	_, err := p.call(ctx, MethodInstall, args)
	return err
}
