package ports

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileConfig describes a tool shipped as one prebuilt binary per platform.
//
// URL may use the placeholders {{version}}, {{os}} and {{arch}}.
type FileConfig struct {
	URL      string   `json:"url"`
	BinName  string   `json:"bin_name"`
	Versions []string `json:"versions"` // oldest first
}

// FilePort downloads a single binary through a Fetcher and installs it
// under bin/.
type FilePort struct {
	cfg     FileConfig
	fetcher *Fetcher
}

// NewFilePort validates cfg.
func NewFilePort(cfg FileConfig, fetcher *Fetcher) (*FilePort, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("file port: url is required")
	}
	if cfg.BinName == "" {
		return nil, fmt.Errorf("file port: bin_name is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("file port %s: fetcher is required", cfg.BinName)
	}
	return &FilePort{cfg: cfg, fetcher: fetcher}, nil
}

// URLFor expands the URL template.
func (p *FilePort) URLFor(version string, platform Platform) string {
	return strings.NewReplacer(
		"{{version}}", version,
		"{{os}}", platform.OS,
		"{{arch}}", platform.Arch,
	).Replace(p.cfg.URL)
}

// ListAll returns the configured versions.
func (p *FilePort) ListAll(context.Context, ListAllArgs) ([]string, error) {
	return append([]string(nil), p.cfg.Versions...), nil
}

// Download fetches the binary into the download path.
func (p *FilePort) Download(ctx context.Context, args InstallArgs) error {
	dest := filepath.Join(args.DownloadPath, p.cfg.BinName)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	return p.fetcher.FetchToFile(ctx, p.URLFor(args.Version, args.Platform), dest)
}

// Install copies the downloaded binary to bin/ and marks it executable.
func (p *FilePort) Install(_ context.Context, args InstallArgs) error {
	src := filepath.Join(args.DownloadPath, p.cfg.BinName)
	dst := filepath.Join(args.InstallPath, "bin", p.cfg.BinName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("file port %s: %w", p.cfg.BinName, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
