package tatara

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Acquirer materializes every DependencySource of a plan on disk. The fetch
// primitives are fields so tests can count invocations without hitting the
// network.
type Acquirer struct {
	Exec        *Executor
	SourcesDir  string
	CacheStore  string
	FullHistory bool
	SkipUpdate  bool

	download func(url, dest string) error
	checkout func(ctx context.Context, src DependencySource, dest string) error
	extract  func(archive, dest string) error
	verify   func(archive string) error
}

func NewAcquirer(exec *Executor, plan *BuildPlan) *Acquirer {
	a := &Acquirer{
		Exec:        exec,
		SourcesDir:  SourcesDir,
		CacheStore:  CacheStore,
		FullHistory: plan.FullHistory,
		SkipUpdate:  plan.SkipUpdate,
	}
	a.download = downloadFile
	a.extract = extractTar
	a.verify = verifyOrRecordChecksum
	a.checkout = a.vcsCheckout
	return a
}

func (a *Acquirer) vcsCheckout(ctx context.Context, src DependencySource, dest string) error {
	switch src.Mode {
	case AcquireGit:
		return a.gitCheckout(ctx, src, dest)
	case AcquireSVN:
		return a.svnCheckout(ctx, src, dest)
	case AcquireHg:
		return a.hgCheckout(ctx, src, dest)
	}
	return fmt.Errorf("no checkout handler for mode %s", src.Mode)
}

// EnsureAll materializes every dependency of the plan. Failure to create the
// base sources directory is fatal for the whole pipeline.
func (a *Acquirer) EnsureAll(ctx context.Context, plan *BuildPlan) error {
	for _, dir := range []string{a.SourcesDir, a.CacheStore} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &AcquisitionError{Op: "create sources directory", Err: err}
		}
	}
	for _, dep := range plan.Deps {
		if err := a.ensure(ctx, dep); err != nil {
			return &AcquisitionError{Op: string(dep.Name), Err: err}
		}
	}
	return nil
}

// ensure is idempotent: a directory (checkouts) or archive file (tarballs)
// already present on disk means the fetch is skipped. This is a presence
// check, not a freshness check; -skip-update governs whether existing
// checkouts are moved forward.
func (a *Acquirer) ensure(ctx context.Context, dep DependencySource) error {
	destDir := filepath.Join(a.SourcesDir, dep.Dir)

	if dep.Mode != AcquireTarball {
		if dirExists(destDir) && a.SkipUpdate {
			debugf("Already present: %s\n", destDir)
			return nil
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Ensuring %s at %s (%s)\n", dep.Name, dep.Revision, dep.Mode)
		return a.checkout(ctx, dep, destDir)
	}

	archivePath := filepath.Join(a.CacheStore, dep.Archive)
	if !fileExists(archivePath) {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching %s\n", dep.Archive)
		if err := a.download(dep.URL, archivePath); err != nil {
			os.Remove(archivePath) // do not leave a partial file in the cache
			return err
		}
	} else {
		debugf("Already in cache: %s\n", archivePath)
	}

	if err := a.verify(archivePath); err != nil {
		return err
	}

	if dirExists(destDir) {
		debugf("Already extracted: %s\n", destDir)
		return nil
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Extracting %s\n", dep.Archive)
	return a.extract(archivePath, a.SourcesDir)
}

// Auxiliary build tools. Later stages need makeinfo (the GCC and binutils
// builds regenerate documentation) and packaging wants pigz; both are built
// once into a local tool prefix when the host lacks them.
var auxTools = []struct {
	Binary  string
	Archive string
	URL     string
	// commands run inside the extracted tree, {PREFIX} substituted
	Steps [][]string
}{
	{
		Binary:  "makeinfo",
		Archive: "texinfo-7.2.tar.xz",
		URL:     gnuOriginalURL + "/texinfo/texinfo-7.2.tar.xz",
		Steps: [][]string{
			{"sh", "configure", "--prefix={PREFIX}", "--disable-nls"},
			{"make"},
			{"make", "install"},
		},
	},
	{
		Binary:  "pigz",
		Archive: "pigz-2.8.tar.gz",
		URL:     "https://zlib.net/pigz/pigz-2.8.tar.gz",
		Steps: [][]string{
			{"make"},
			{"install", "-D", "-m", "755", "pigz", "{PREFIX}/bin/pigz"},
		},
	},
}

// ProvisionTools ensures the auxiliary tools exist under ToolPrefix/bin and
// returns the bin directory to prepend to the child PATH for the rest of the
// run. Any failure here aborts the pipeline.
func (a *Acquirer) ProvisionTools(ctx context.Context) (string, error) {
	binDir := filepath.Join(ToolPrefix, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", &AcquisitionError{Op: "create tool prefix", Err: err}
	}

	for _, tool := range auxTools {
		if fileExists(filepath.Join(binDir, tool.Binary)) {
			debugf("Tool already provisioned: %s\n", tool.Binary)
			continue
		}
		if path, err := exec.LookPath(tool.Binary); err == nil {
			debugf("Tool found on host: %s\n", path)
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Provisioning %s into %s\n", tool.Binary, ToolPrefix)
		if err := a.buildTool(ctx, tool.Archive, tool.URL, tool.Steps); err != nil {
			return "", &AcquisitionError{Op: "provision " + tool.Binary, Err: err}
		}
	}
	return binDir, nil
}

func (a *Acquirer) buildTool(ctx context.Context, archive, url string, steps [][]string) error {
	archivePath := filepath.Join(a.CacheStore, archive)
	if !fileExists(archivePath) {
		if err := a.download(url, archivePath); err != nil {
			return err
		}
	}
	srcDir := filepath.Join(a.SourcesDir, strings.TrimSuffix(strings.TrimSuffix(archive, ".tar.xz"), ".tar.gz"))
	if !dirExists(srcDir) {
		if err := a.extract(archivePath, a.SourcesDir); err != nil {
			return err
		}
	}
	for _, step := range steps {
		args := make([]string, len(step)-1)
		for i, s := range step[1:] {
			args[i] = strings.ReplaceAll(s, "{PREFIX}", ToolPrefix)
		}
		cmd := a.vcsCommand(ctx, srcDir, step[0], args...)
		if err := a.Exec.Run(cmd); err != nil {
			return fmt.Errorf("%s: %w", step[0], err)
		}
	}
	return nil
}
