package tatara

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fetchCounts struct {
	download int
	checkout int
	extract  int
	verify   int
}

// newTestAcquirer stubs every fetch primitive so nothing touches the network
// or spawns a subprocess. The extract stub materializes extractDir the way a
// real unpack would.
func newTestAcquirer(t *testing.T, extractDir string) (*Acquirer, *fetchCounts) {
	t.Helper()
	base := t.TempDir()
	a := &Acquirer{
		SourcesDir: filepath.Join(base, "sources"),
		CacheStore: filepath.Join(base, "cache"),
	}
	counts := &fetchCounts{}
	a.download = func(url, dest string) error {
		counts.download++
		return os.WriteFile(dest, []byte("archive"), 0o644)
	}
	a.checkout = func(ctx context.Context, src DependencySource, dest string) error {
		counts.checkout++
		return os.MkdirAll(dest, 0o755)
	}
	a.extract = func(archive, dest string) error {
		counts.extract++
		return os.MkdirAll(filepath.Join(dest, extractDir), 0o755)
	}
	a.verify = func(archive string) error {
		counts.verify++
		return nil
	}
	require.NoError(t, os.MkdirAll(a.SourcesDir, 0o755))
	require.NoError(t, os.MkdirAll(a.CacheStore, 0o755))
	return a, counts
}

func TestEnsureTarballIdempotent(t *testing.T) {
	dep := DependencySource{
		Name: DepGMP, Mode: AcquireTarball,
		URL:     "https://ftp.gnu.org/gnu/gmp/gmp-6.3.0.tar.xz",
		Dir:     "gmp-6.3.0",
		Archive: "gmp-6.3.0.tar.xz",
	}
	a, counts := newTestAcquirer(t, dep.Dir)

	require.NoError(t, a.ensure(context.Background(), dep))
	require.Equal(t, 1, counts.download)
	require.Equal(t, 1, counts.extract)
	require.True(t, dirExists(filepath.Join(a.SourcesDir, dep.Dir)))

	// A second pass finds both the cached archive and the extracted tree.
	require.NoError(t, a.ensure(context.Background(), dep))
	require.Equal(t, 1, counts.download, "cached archive must not be re-downloaded")
	require.Equal(t, 1, counts.extract, "existing tree must not be re-extracted")
	require.Equal(t, 2, counts.verify, "integrity is checked on every pass")
}

func TestEnsureRemovesPartialDownload(t *testing.T) {
	dep := DependencySource{
		Name: DepMPC, Mode: AcquireTarball,
		Dir: "mpc-1.3.1", Archive: "mpc-1.3.1.tar.xz",
	}
	a, _ := newTestAcquirer(t, dep.Dir)
	a.download = func(url, dest string) error {
		// Simulate a connection dropped mid-transfer.
		_ = os.WriteFile(dest, []byte("trunc"), 0o644)
		return fmt.Errorf("connection reset")
	}

	err := a.ensure(context.Background(), dep)
	require.Error(t, err)
	require.False(t, fileExists(filepath.Join(a.CacheStore, dep.Archive)),
		"partial archive must not survive in the cache")
}

func TestEnsureCheckoutSkipUpdate(t *testing.T) {
	dep := DependencySource{
		Name: DepGlibc, Mode: AcquireGit,
		URL: "https://sourceware.org/git/glibc.git", Revision: "release/2.41/master", Dir: "glibc",
	}

	t.Run("present and skip-update", func(t *testing.T) {
		a, counts := newTestAcquirer(t, "")
		a.SkipUpdate = true
		require.NoError(t, os.MkdirAll(filepath.Join(a.SourcesDir, dep.Dir), 0o755))

		require.NoError(t, a.ensure(context.Background(), dep))
		require.Equal(t, 0, counts.checkout)
	})

	t.Run("present without skip-update", func(t *testing.T) {
		a, counts := newTestAcquirer(t, "")
		require.NoError(t, os.MkdirAll(filepath.Join(a.SourcesDir, dep.Dir), 0o755))

		require.NoError(t, a.ensure(context.Background(), dep))
		require.Equal(t, 1, counts.checkout, "existing checkouts are moved forward")
	})

	t.Run("absent", func(t *testing.T) {
		a, counts := newTestAcquirer(t, "")
		a.SkipUpdate = true

		require.NoError(t, a.ensure(context.Background(), dep))
		require.Equal(t, 1, counts.checkout)
	})
}

func TestEnsureAllWrapsFailures(t *testing.T) {
	plan := &BuildPlan{Deps: []DependencySource{{
		Name: DepISL, Mode: AcquireTarball,
		Dir: "isl-0.26", Archive: "isl-0.26.tar.xz",
	}}}
	a, _ := newTestAcquirer(t, "isl-0.26")
	wantErr := &IntegrityError{Path: "isl-0.26.tar.xz", Msg: "checksum mismatch"}
	a.verify = func(archive string) error { return wantErr }

	err := a.EnsureAll(context.Background(), plan)

	var aerr *AcquisitionError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, "isl", aerr.Op)

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr, "the cause must stay reachable through the wrapper")
}

func TestEnsureAllStopsAtFirstFailure(t *testing.T) {
	plan := &BuildPlan{Deps: []DependencySource{
		{Name: DepGMP, Mode: AcquireGit, Dir: "gmp"},
		{Name: DepMPC, Mode: AcquireGit, Dir: "mpc"},
	}}
	a, counts := newTestAcquirer(t, "")
	a.checkout = func(ctx context.Context, src DependencySource, dest string) error {
		counts.checkout++
		return errors.New("remote unreachable")
	}

	err := a.EnsureAll(context.Background(), plan)
	require.Error(t, err)
	require.Equal(t, 1, counts.checkout, "no further dependency may be attempted after a failure")
}
