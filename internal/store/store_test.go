package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatypedev/ghjk/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='installs'").Scan(&name)
	if err != nil {
		t.Errorf("installs table not found after idempotent opens: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestInstalls_SetGetRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	row := createTestRow("node", "20.1.0")
	require.NoError(t, s.Set(ctx, row))

	got, err := s.Get(ctx, row.InstallID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row, *got)
	assert.Nil(t, got.InstallArtifacts)
}

func TestInstalls_GetMissing(t *testing.T) {
	s := createTestStore(t)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInstalls_SetAdvancesProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	row := createTestRow("node", "20.1.0")
	require.NoError(t, s.Set(ctx, row))

	row.Progress = ir.ProgressInstalled
	row.InstallArtifacts = &ir.InstallArtifacts{
		InstallPath:  "/data/installs/node",
		DownloadPath: row.DownloadArtifacts.DownloadPath,
		BinPaths:     []string{"bin/*"},
		Env:          map[string]string{"NODE_HOME": "/data/installs/node"},
	}
	require.NoError(t, s.Set(ctx, row))

	got, err := s.Get(ctx, row.InstallID)
	require.NoError(t, err)
	assert.Equal(t, ir.ProgressInstalled, got.Progress)
	assert.Equal(t, row.InstallArtifacts, got.InstallArtifacts)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInstalls_AllOrderedAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rows := []ir.InstallRow{
		createTestRow("a", "1"),
		createTestRow("b", "2"),
		createTestRow("c", "3"),
	}
	for _, r := range rows {
		require.NoError(t, s.Set(ctx, r))
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].InstallID, all[i].InstallID)
	}

	require.NoError(t, s.Delete(ctx, rows[1].InstallID))
	require.NoError(t, s.Delete(ctx, rows[1].InstallID))

	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInstalls_SetRejectsEmptyID(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.Set(context.Background(), ir.InstallRow{Progress: ir.ProgressInstalled}))
}

func TestHandle_ClosesOnLastRelease(t *testing.T) {
	s := createTestStore(t)
	h := NewHandle(s)

	require.NotNil(t, h.Retain())
	require.NoError(t, h.Release())

	// still open for the first holder
	_, err := h.Store().All(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Release())
	assert.Nil(t, h.Store())
	assert.Nil(t, h.Retain())
	assert.NoError(t, h.Release(), "releasing a closed handle is a no-op")

	assert.Error(t, s.db.Ping())
}
