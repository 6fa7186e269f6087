package shim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestLinkAndConflict(t *testing.T) {
	src := t.TempDir()
	touch(t, filepath.Join(src, "a", "bin", "tool"))
	touch(t, filepath.Join(src, "b", "bin", "tool"))

	d, err := Create(filepath.Join(t.TempDir(), "shims"))
	require.NoError(t, err)

	linked, err := d.Link(d.Bin, []string{filepath.Join(src, "a", "bin", "tool")})
	require.NoError(t, err)
	target, err := os.Readlink(linked["tool"])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "a", "bin", "tool"), target)

	// relinking the same target is a no-op
	_, err = d.Link(d.Bin, []string{filepath.Join(src, "a", "bin", "tool")})
	require.NoError(t, err)

	_, err = d.Link(d.Bin, []string{filepath.Join(src, "b", "bin", "tool")})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tool", ce.Name)
}

func TestExpandGlobs(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "bin", "x"))
	touch(t, filepath.Join(base, "bin", "y"))
	abs := filepath.Join(t.TempDir(), "z")
	touch(t, abs)

	got, err := ExpandGlobs(base, []string{"bin/*", "missing/*", abs, "bin/x"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "bin", "x"), filepath.Join(base, "bin", "y"), abs}, got)
}
