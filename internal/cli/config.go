package cli

import (
	"os"
	"path/filepath"

	"github.com/metatypedev/ghjk/internal/lockfile"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvVarDir     = "GHJK_DIR"
	EnvVarDataDir = "GHJK_DATA_DIR"
)

// Config is the resolved runtime configuration of one invocation.
type Config struct {
	Dir     string
	DataDir string
}

// ResolveConfig applies flag, then environment, then default.
func ResolveConfig(opts *RootOptions) (Config, error) {
	dir := firstNonEmpty(opts.Dir, os.Getenv(EnvVarDir), ".")
	dir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, err
	}
	data := firstNonEmpty(opts.DataDir, os.Getenv(EnvVarDataDir), filepath.Join(dir, ".ghjk"))
	data, err = filepath.Abs(data)
	if err != nil {
		return Config{}, err
	}
	return Config{Dir: dir, DataDir: data}, nil
}

// DBPath is the Install DB location.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "installs.db") }

// LockPath is the lockfile location, next to the ghjkfile.
func (c Config) LockPath() string { return filepath.Join(c.Dir, lockfile.FileName) }

// ConfigPath is where compile writes the module config.
func (c Config) ConfigPath() string { return filepath.Join(c.DataDir, "config.json") }

// EnvDir is where an env is cooked.
func (c Config) EnvDir(name string) string { return filepath.Join(c.DataDir, "envs", name) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
