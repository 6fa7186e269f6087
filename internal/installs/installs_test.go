package installs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/store"
	"github.com/metatypedev/ghjk/internal/testutil"
)

var linux = ports.Platform{OS: "linux", Arch: "x86_64"}

type fixture struct {
	node, tar *testutil.FakePort
	reg       *ports.Registry
	db        *store.Store
	dataDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		node: &testutil.FakePort{Versions: []string{"v1.2.3", "v1.2.2"}, Bins: []string{"node"}, Env: map[string]string{"NODE_HOME": "/opt/node"}},
		tar:  &testutil.FakePort{Versions: []string{"1.34.0", "1.35.0"}, Bins: []string{"tar"}},
	}
	reg, err := testutil.Registry(map[string]testutil.Entry{
		"node": {Manifest: ir.PortManifest{BuildDeps: []string{"tar"}}, Port: f.node},
		"tar":  {Port: f.tar},
	})
	require.NoError(t, err)
	f.reg = reg

	db, err := store.Open(filepath.Join(t.TempDir(), "installs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.db = db
	f.dataDir = t.TempDir()
	return f
}

func (f *fixture) installer(lock *lockfile.Lockfile) *Installer {
	return New(Options{
		DB:       f.db,
		Registry: f.reg,
		Lock:     lock,
		DataDir:  f.dataDir,
		Platform: linux,
		Retry:    ports.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
	})
}

func nodeSet(version string) ir.InstallSet {
	return ir.InstallSet{
		Installs: []ir.InstallConfig{{Port: "node", Version: version}},
		AllowedBuildDeps: map[string]ir.AllowedPortDep{
			"tar": {Manifest: ir.PortManifest{Name: "tar"}, DefaultConfig: ir.InstallConfig{Port: "tar"}},
		},
	}
}

func TestMatchVersion(t *testing.T) {
	available := []string{"v1.2.3", "v1.2.2"}

	v, err := MatchVersion("node", "1.2.3", available)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	v, err = MatchVersion("node", "v1.2.2", available)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.2", v)

	_, err = MatchVersion("node", "9.9.9", available)
	require.Error(t, err)
	assert.True(t, IsVersionNotFound(err))
	var ve *VersionNotFoundError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"v1.2.3", "v1.2.2"}, ve.Available)
	assert.Contains(t, err.Error(), "v1.2.3, v1.2.2")
}

func TestResolve_PinsVersionsAndDeps(t *testing.T) {
	f := newFixture(t)
	in := f.installer(nil)
	ctx := context.Background()

	resolved, err := in.Resolver.Resolve(ctx, nodeSet("1.2.3"), ir.InstallConfig{Port: "node", Version: "1.2.3"})
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", resolved.Version)
	require.Contains(t, resolved.BuildDepConfigs, "tar")
	assert.Equal(t, "1.35.0", resolved.BuildDepConfigs["tar"].Version, "latest stable defaults to last listed")
}

func TestResolve_SameContentSameID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := ir.InstallConfig{Port: "node", Version: "1.2.3"}

	a, err := f.installer(nil).Resolver.Resolve(ctx, nodeSet("1.2.3"), cfg)
	require.NoError(t, err)
	b, err := f.installer(nil).Resolver.Resolve(ctx, nodeSet("1.2.3"), cfg)
	require.NoError(t, err)
	assert.Equal(t, ir.MustInstallID(a), ir.MustInstallID(b))
}

func TestResolve_MemoizedAndLocked(t *testing.T) {
	f := newFixture(t)
	lock := lockfile.New(filepath.Join(t.TempDir(), lockfile.FileName))
	ctx := context.Background()
	cfg := ir.InstallConfig{Port: "node", Version: "1.2.3"}

	in := f.installer(lock)
	_, err := in.Resolver.Resolve(ctx, nodeSet("1.2.3"), cfg)
	require.NoError(t, err)
	_, err = in.Resolver.Resolve(ctx, nodeSet("1.2.3"), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.node.Count(ports.MethodListAll))

	f.node.Reset()
	_, err = f.installer(lock).Resolver.Resolve(ctx, nodeSet("1.2.3"), cfg)
	require.NoError(t, err)
	assert.Zero(t, f.node.Count(ports.MethodListAll), "second resolver reads the lockfile")
}

func TestResolve_VersionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.installer(nil).Resolver.Resolve(context.Background(), nodeSet("9.9.9"), ir.InstallConfig{Port: "node", Version: "9.9.9"})
	require.Error(t, err)
	assert.True(t, IsVersionNotFound(err))
}

func TestResolve_UnknownPortAndDep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.installer(nil).Resolver.Resolve(ctx, ir.InstallSet{}, ir.InstallConfig{Port: "ghost"})
	require.Error(t, err)
	assert.True(t, ports.IsUnknownPort(err))

	_, err = f.installer(nil).Resolver.Resolve(ctx, ir.InstallSet{}, ir.InstallConfig{Port: "node"})
	require.Error(t, err)
	assert.True(t, IsUnknownDep(err), "tar is not allowed in an empty set")
}

func TestResolve_UnsupportedPlatform(t *testing.T) {
	reg, err := testutil.Registry(map[string]testutil.Entry{
		"mac-only": {Manifest: ir.PortManifest{Platforms: []string{"darwin-aarch64"}}, Port: &testutil.FakePort{Versions: []string{"1"}}},
	})
	require.NoError(t, err)
	in := New(Options{Registry: reg, Platform: linux})

	_, err = in.Resolver.Resolve(context.Background(), ir.InstallSet{}, ir.InstallConfig{Port: "mac-only"})
	var pe *UnsupportedPlatformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "linux-x86_64", pe.Platform)
}

func TestResolve_DependencyCycle(t *testing.T) {
	a := &testutil.FakePort{Versions: []string{"1"}}
	b := &testutil.FakePort{Versions: []string{"1"}}
	reg, err := testutil.Registry(map[string]testutil.Entry{
		"a": {Manifest: ir.PortManifest{BuildDeps: []string{"b"}}, Port: a},
		"b": {Manifest: ir.PortManifest{BuildDeps: []string{"a"}}, Port: b},
	})
	require.NoError(t, err)
	set := ir.InstallSet{
		Installs: []ir.InstallConfig{{Port: "a"}},
		AllowedBuildDeps: map[string]ir.AllowedPortDep{
			"a": {DefaultConfig: ir.InstallConfig{Port: "a"}},
			"b": {DefaultConfig: ir.InstallConfig{Port: "b"}},
		},
	}

	_, err = New(Options{Registry: reg, Platform: linux}).Resolver.BuildGraph(context.Background(), set)
	require.Error(t, err)
	var ce *graph.CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "b", ce.From)
	assert.Equal(t, "a", ce.To)
	assert.Equal(t, []string{"a", "b", "a"}, ce.Chain)
}

func TestInstallGraph_ManufacturedCycle(t *testing.T) {
	g := NewInstallGraph()
	g.AddEdge("id-a", "id-b")
	g.AddEdge("id-b", "id-a")

	err := g.Validate()
	require.Error(t, err)
	var ce *graph.CycleError
	require.ErrorAs(t, err, &ce)
	assert.ElementsMatch(t, []string{"id-a", "id-b"}, []string{ce.From, ce.To})
	assert.Contains(t, err.Error(), "id-a")
	assert.Contains(t, err.Error(), "id-b")
}

func TestBuildGraph_Shape(t *testing.T) {
	f := newFixture(t)
	g, err := f.installer(nil).Resolver.BuildGraph(context.Background(), nodeSet("1.2.3"))
	require.NoError(t, err)

	require.Len(t, g.User, 1)
	assert.Len(t, g.All, 2)
	nodeID := g.User[0]
	tarID, ok := g.DepID(nodeID, "tar")
	require.True(t, ok)
	assert.Equal(t, []string{tarID}, g.Indie)
	assert.Equal(t, []string{tarID}, g.DepEdges[nodeID])
	assert.Equal(t, []string{nodeID}, g.RevDepEdges[tarID])
	assert.NoError(t, graph.CheckCycles(g.DAG))
}

func TestBuildGraph_DuplicateUserInstall(t *testing.T) {
	f := newFixture(t)
	set := nodeSet("1.2.3")
	set.Installs = append(set.Installs, ir.InstallConfig{Port: "node", Version: "v1.2.3"})

	_, err := f.installer(nil).Resolver.BuildGraph(context.Background(), set)
	require.Error(t, err)
	assert.True(t, IsDuplicateInstall(err))
	var de *DuplicateInstallError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, de.First)
	assert.Equal(t, 1, de.Second)
}

func TestPipeline_InstallsDepsFirstAndShimsThem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, arts, err := f.installer(nil).Sync(ctx, nodeSet("1.2.3"))
	require.NoError(t, err)
	assert.Len(t, arts, 2)

	assert.Equal(t, 1, f.tar.Count(ports.MethodInstall))
	calls := f.node.Calls()
	var install testutil.Call
	for _, c := range calls {
		if c.Method == ports.MethodInstall {
			install = c
		}
	}
	require.Contains(t, install.Deps.Ports, "tar")
	tarShim := install.Deps.Ports["tar"].Bin["tar"]
	assert.Equal(t, filepath.Join(install.Deps.ShimDir, "bin", "tar"), tarShim)

	_, err = os.Stat(install.Deps.ShimDir)
	assert.True(t, os.IsNotExist(err), "per-node shim dir is removed")

	entries, err := os.ReadDir(filepath.Join(f.dataDir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	row, err := f.db.Get(ctx, g.User[0])
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, ir.ProgressInstalled, row.Progress)
	assert.Equal(t, "v1.2.3", row.Config.Version)
}

func TestPipeline_SecondRunDoesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.installer(nil).Sync(ctx, nodeSet("1.2.3"))
	require.NoError(t, err)

	f.node.Reset()
	f.tar.Reset()
	_, _, err = f.installer(nil).Sync(ctx, nodeSet("1.2.3"))
	require.NoError(t, err)

	for _, p := range []*testutil.FakePort{f.node, f.tar} {
		assert.Zero(t, p.Count(ports.MethodDownload))
		assert.Zero(t, p.Count(ports.MethodInstall))
	}
}

func TestPipeline_ResumesAfterDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.installer(nil)

	g, err := in.Resolver.BuildGraph(ctx, nodeSet("1.2.3"))
	require.NoError(t, err)
	nodeID := g.User[0]
	cfg := g.All[nodeID]
	require.NoError(t, os.MkdirAll(in.Pipeline.DownloadPath("node", nodeID), 0o755))
	require.NoError(t, f.db.Set(ctx, ir.InstallRow{
		InstallID:         nodeID,
		Config:            cfg,
		Manifest:          g.Ports["node"],
		DownloadArtifacts: &ir.DownloadArtifacts{DownloadPath: in.Pipeline.DownloadPath("node", nodeID)},
		Progress:          ir.ProgressDownloaded,
	}))

	_, err = in.Pipeline.InstallGraph(ctx, g)
	require.NoError(t, err)
	assert.Zero(t, f.node.Count(ports.MethodDownload))
	assert.Equal(t, 1, f.node.Count(ports.MethodInstall))
}

func TestPipeline_RetriesDownloads(t *testing.T) {
	f := newFixture(t)
	f.tar.FailDownloads = 1

	_, _, err := f.installer(nil).Sync(context.Background(), nodeSet("1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.tar.Count(ports.MethodDownload))
}

func TestResolve_ResolutionDepsAreShimmed(t *testing.T) {
	rt := &testutil.FakePort{Versions: []string{"3.0.0"}, Bins: []string{"rt"}}
	pkg := &testutil.FakePort{Versions: []string{"0.9.0"}}
	reg, err := testutil.Registry(map[string]testutil.Entry{
		"rt":  {Port: rt},
		"pkg": {Manifest: ir.PortManifest{ResolutionDeps: []string{"rt"}}, Port: pkg},
	})
	require.NoError(t, err)
	db, err := store.Open(filepath.Join(t.TempDir(), "installs.db"))
	require.NoError(t, err)
	defer db.Close()

	in := New(Options{DB: db, Registry: reg, DataDir: t.TempDir(), Platform: linux})
	set := ir.InstallSet{
		Installs:         []ir.InstallConfig{{Port: "pkg"}},
		AllowedBuildDeps: map[string]ir.AllowedPortDep{"rt": {DefaultConfig: ir.InstallConfig{Port: "rt"}}},
	}
	resolved, err := in.Resolver.Resolve(context.Background(), set, set.Installs[0])
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", resolved.Version)
	assert.Equal(t, "3.0.0", resolved.ResolutionDepConfigs["rt"].Version)

	assert.Equal(t, 1, rt.Count(ports.MethodInstall), "resolution deps install before listing")
	calls := pkg.Calls()
	require.NotEmpty(t, calls)
	ns := calls[0].Deps
	assert.Contains(t, ns.Ports["rt"].Bin, "rt")
	_, err = os.Stat(ns.ShimDir)
	assert.True(t, os.IsNotExist(err))
}

func TestProvisions(t *testing.T) {
	f := newFixture(t)
	g, arts, err := f.installer(nil).Sync(context.Background(), nodeSet("1.2.3"))
	require.NoError(t, err)

	provs, err := Provisions(g, arts)
	require.NoError(t, err)
	nodeArt := arts[g.User[0]]
	assert.Equal(t, []ir.Provision{
		{Kind: ir.KindExec, Path: filepath.Join(nodeArt.InstallPath, "bin", "node")},
		ir.EnvVar("NODE_HOME", "/opt/node"),
	}, provs)
}

func TestInstallSetReducer(t *testing.T) {
	f := newFixture(t)
	set := nodeSet("1.2.3")
	setID, err := ir.InstallSetID(set)
	require.NoError(t, err)

	cfg := &ir.ModuleConfig{}
	require.NoError(t, cfg.Put(setID, set))

	reduce := f.installer(nil).InstallSetReducer(cfg)
	out, err := reduce(context.Background(), []ir.Provision{{Kind: ir.KindInstallSetRef, SetID: setID}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, ir.KindExec, out[0].Kind)
}

func TestLockKeys_MatchResolverLookups(t *testing.T) {
	f := newFixture(t)
	lock := lockfile.New(filepath.Join(t.TempDir(), lockfile.FileName))
	set := nodeSet("1.2.3")

	_, _, err := f.installer(lock).Sync(context.Background(), set)
	require.NoError(t, err)

	keys, err := LockKeys(f.reg, []ir.InstallSet{set})
	require.NoError(t, err)
	assert.Len(t, keys, 2, "node and its tar build dep")
	for k := range keys {
		_, ok := lock.Resolution(k)
		assert.True(t, ok, "resolver recorded %s", k)
	}

	lock.SetResolution("stale", ir.ResolvedInstallConfig{Port: "node", Version: "v0.0.1"})
	assert.Equal(t, 1, lock.Prune(keys))
	for k := range keys {
		_, ok := lock.Resolution(k)
		assert.True(t, ok)
	}
}

func TestLockKeys_UnknownPortKeepsOwnHash(t *testing.T) {
	f := newFixture(t)
	cfg := ir.InstallConfig{Port: "ghost", Version: "1"}
	keys, err := LockKeys(f.reg, []ir.InstallSet{{Installs: []ir.InstallConfig{cfg}}})
	require.NoError(t, err)

	hash, err := ir.InstallConfigHash(cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{hash: true}, keys)
}

func TestPruneLock(t *testing.T) {
	f := newFixture(t)
	lock := lockfile.New(filepath.Join(t.TempDir(), lockfile.FileName))
	set := nodeSet("1.2.3")
	_, _, err := f.installer(lock).Sync(context.Background(), set)
	require.NoError(t, err)
	lock.SetResolution("stale", ir.ResolvedInstallConfig{Port: "tar", Version: "0.1"})

	setID, err := ir.InstallSetID(set)
	require.NoError(t, err)
	recipe := ir.EnvRecipe{Provides: []ir.Provision{{Kind: ir.KindInstallSetRef, SetID: setID}}}
	recipeID, err := ir.RecipeID(recipe)
	require.NoError(t, err)
	cfg := &ir.ModuleConfig{Envs: map[string]string{"main": recipeID}}
	require.NoError(t, cfg.Put(setID, set))
	require.NoError(t, cfg.Put(recipeID, recipe))

	n, err := PruneLock(lock, f.reg, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := lock.Resolution("stale")
	assert.False(t, ok)

	n, err = PruneLock(lock, f.reg, cfg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInstaller_ReleasesOwnHandleReference(t *testing.T) {
	f := newFixture(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	h := store.NewHandle(st)

	in := New(Options{Handle: h, Registry: f.reg, DataDir: f.dataDir, Platform: linux})
	assert.Same(t, st, in.Pipeline.DB)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.NotNil(t, h.Store(), "the creator still holds a reference")

	require.NoError(t, h.Release())
	assert.Nil(t, h.Store())
}
