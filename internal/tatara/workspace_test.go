package tatara

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withSourcesDir(t *testing.T) string {
	t.Helper()
	old := SourcesDir
	SourcesDir = t.TempDir()
	t.Cleanup(func() { SourcesDir = old })
	return SourcesDir
}

func TestSelectGCCPatch(t *testing.T) {
	tests := []struct {
		version int
		patch   string
		ok      bool
	}{
		{5, "gcc5-ustat.patch", true},
		{6, "gcc5-ustat.patch", true},
		{7, "gcc7-ucontext.patch", true},
		{8, "gcc7-ucontext.patch", true},
		{9, "gcc9-cyclades.patch", true},
		{10, "gcc9-cyclades.patch", true},
		{11, "gcc11-crypt.patch", true},
		{12, "gcc11-crypt.patch", true},
		{13, "", false},
		{16, "", false},
	}
	for _, tt := range tests {
		name, ok := selectGCCPatch(tt.version)
		require.Equal(t, tt.ok, ok, "version %d", tt.version)
		require.Equal(t, tt.patch, name, "version %d", tt.version)
	}
}

func TestEmbeddedPatchesPresent(t *testing.T) {
	for _, r := range gccPatchRanges {
		data, err := embeddedPatches.ReadFile("assets/patches/" + r.Name)
		require.NoError(t, err, r.Name)
		require.NotEmpty(t, data, r.Name)
	}
}

func TestLinkMathLibraries(t *testing.T) {
	src := withSourcesDir(t)

	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 11, Tarballs: true})
	require.NoError(t, err)

	gccDir := filepath.Join(src, plan.GCCDep().Dir)
	require.NoError(t, os.MkdirAll(gccDir, 0o755))
	for _, name := range []DepName{DepGMP, DepMPFR, DepMPC, DepISL} {
		dep, ok := plan.Dep(name)
		require.True(t, ok)
		require.NoError(t, os.MkdirAll(filepath.Join(src, dep.Dir), 0o755))
	}

	require.NoError(t, linkMathLibraries(plan))

	for _, name := range []DepName{DepGMP, DepMPFR, DepMPC, DepISL} {
		dep, _ := plan.Dep(name)
		target, err := os.Readlink(filepath.Join(gccDir, string(name)))
		require.NoError(t, err, "missing %s symlink", name)
		require.Equal(t, filepath.Join(src, dep.Dir), target)
	}

	// Relinking over existing correct links is a no-op.
	require.NoError(t, linkMathLibraries(plan))
}

func TestLinkMathLibrariesWithoutGCCTree(t *testing.T) {
	withSourcesDir(t)

	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 11})
	require.NoError(t, err)

	err = linkMathLibraries(plan)
	require.Error(t, err)
	require.Contains(t, err.Error(), "was acquisition run?")
}

func TestStageBuildDirs(t *testing.T) {
	glibcPlan := &BuildPlan{}
	require.Equal(t, []Stage{StageBinutils, StageGCCFrontend, StageRuntimeGlibc}, stageBuildDirs(glibcPlan))

	newlibPlan := &BuildPlan{UseNewlib: true}
	require.Equal(t, []Stage{StageBinutils, StageGCCFrontend, StageRuntimeNewlib}, stageBuildDirs(newlibPlan))
}

func TestBuildDirFinalizeSharesFrontend(t *testing.T) {
	ws := &Workspace{BuildDirs: map[Stage]string{
		StageGCCFrontend: "/build/gcc-frontend",
	}}
	require.Equal(t, "/build/gcc-frontend", ws.BuildDir(StageGCCFinalize))
}

func TestWorkspaceReleaseIdempotent(t *testing.T) {
	ws := &Workspace{}
	ws.Release()
	ws.Release()
}

func TestEnsureFreshDir(t *testing.T) {
	require.NoError(t, ensureFreshDir(filepath.Join(t.TempDir(), "never-created")))
	require.NoError(t, ensureFreshDir(t.TempDir()))

	stale := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stale, "config.log"), []byte("x"), 0o644))
	err := ensureFreshDir(stale)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, stale, ierr.Path)
}

func withWorkspaceDirs(t *testing.T, backing string) {
	t.Helper()
	oldWork, oldBacking := WorkDir, BuildBackingDir
	WorkDir = t.TempDir()
	BuildBackingDir = backing
	t.Cleanup(func() { WorkDir, BuildBackingDir = oldWork, oldBacking })
}

func TestPrepareWorkspacePlain(t *testing.T) {
	src := withSourcesDir(t)
	withWorkspaceDirs(t, "")

	plan, err := Resolve(gnuOpts("arm64", 13))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(src, plan.GCCDep().Dir), 0o755))
	for _, name := range []DepName{DepGMP, DepMPFR, DepMPC, DepISL} {
		dep, _ := plan.Dep(name)
		require.NoError(t, os.MkdirAll(filepath.Join(src, dep.Dir), 0o755))
	}

	ws, err := prepareWorkspace(plan, &Executor{Context: context.Background()})
	require.NoError(t, err)
	require.Equal(t, BackingPlain, ws.Backing, "no backing dir configured means plain build dirs")
	require.Empty(t, ws.mounts)
	require.Len(t, ws.BuildDirs, 3)
	for _, dir := range ws.BuildDirs {
		require.True(t, dirExists(dir))
	}
	ws.Release()
}

func TestPrepareWorkspaceRefusesStaleBackingDir(t *testing.T) {
	withSourcesDir(t)
	withWorkspaceDirs(t, t.TempDir())

	plan, err := Resolve(gnuOpts("arm64", 13))
	require.NoError(t, err)

	// A previous run's build tree survives in the backing dir even though
	// its mount target was unmounted and is empty.
	stale := filepath.Join(BuildBackingDir, plan.Triple, string(StageBinutils))
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "Makefile"), []byte("all:"), 0o644))

	_, err = prepareWorkspace(plan, &Executor{Context: context.Background()})
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, stale, ierr.Path)
}
