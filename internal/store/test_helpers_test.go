package store

import (
	"path/filepath"
	"testing"

	"github.com/metatypedev/ghjk/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRow creates a downloaded-stage row for port at version.
func createTestRow(port, version string) ir.InstallRow {
	cfg := ir.ResolvedInstallConfig{Port: port, Version: version}
	return ir.InstallRow{
		InstallID: ir.MustInstallID(cfg),
		Config:    cfg,
		Manifest:  ir.PortManifest{Name: port, Version: "0.1.0", Kind: ir.PortKindBuiltin},
		DownloadArtifacts: &ir.DownloadArtifacts{
			DownloadPath: "/data/downloads/" + port,
		},
		Progress: ir.ProgressDownloaded,
	}
}
