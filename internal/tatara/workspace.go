package tatara

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BackingMode selects how build directories are backed.
type BackingMode int

const (
	BackingPlain BackingMode = iota
	BackingTmpfs
	BackingBind
)

// Workspace is the set of per-stage build directories plus the install
// prefix. Exactly one build directory exists per stage that will run; every
// mount it creates is released on all exit paths.
type Workspace struct {
	Root      string // parent of the per-stage build dirs
	Prefix    string // toolchain install prefix
	Backing   BackingMode
	BuildDirs map[Stage]string

	exec   *Executor
	mu     sync.Mutex
	mounts []string
}

// BuildDir returns the build directory for a stage. The finalize stage
// shares the compiler front-end's build directory.
func (w *Workspace) BuildDir(s Stage) string {
	if s == StageGCCFinalize {
		return w.BuildDirs[StageGCCFrontend]
	}
	return w.BuildDirs[s]
}

// Release unmounts every mounted build directory. Idempotent and safe when
// nothing is mounted, so it can run from the signal handler and again from
// the deferred cleanup.
func (w *Workspace) Release() {
	w.mu.Lock()
	mounts := w.mounts
	w.mounts = nil
	w.mu.Unlock()

	if len(mounts) == 0 {
		return
	}
	if err := w.exec.UnmountFilesystems(mounts); err != nil {
		cPrintf(colWarn, "Workspace cleanup: %v\n", err)
	}
}

// stageBuildDirs lists the build directories the plan needs. Headers build
// in-tree (headers_install) and finalize reuses the front-end dir, so only
// three stages ever get one.
func stageBuildDirs(plan *BuildPlan) []Stage {
	dirs := []Stage{StageBinutils, StageGCCFrontend}
	if plan.UseNewlib {
		dirs = append(dirs, StageRuntimeNewlib)
	} else {
		dirs = append(dirs, StageRuntimeGlibc)
	}
	return dirs
}

// ensureFreshDir refuses leftovers from a previous run. Missing or empty
// paths pass; a live mount or a non-empty directory is an IntegrityError.
func ensureFreshDir(dir string) error {
	if isMountPoint(dir) {
		return &IntegrityError{Path: dir, Msg: "stale mount from a previous run; unmount it and retry"}
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return &IntegrityError{Path: dir, Msg: "stale build directory from a previous run; remove it and retry"}
	}
	return nil
}

// prepareWorkspace creates the build directories (tmpfs-mounted,
// bind-mounted or plain per plan), wires the arbitrary-precision math
// libraries into the compiler tree, and applies the version-specific
// compiler patch.
func prepareWorkspace(plan *BuildPlan, rootExec *Executor) (*Workspace, error) {
	ws := &Workspace{
		Root:      filepath.Join(WorkDir, "build", plan.Triple),
		Prefix:    plan.Prefix(WorkDir),
		Backing:   BackingPlain,
		BuildDirs: make(map[Stage]string),
		exec:      rootExec,
	}
	switch {
	case plan.RAMBuild:
		ws.Backing = BackingTmpfs
	case BuildBackingDir != "":
		ws.Backing = BackingBind
	}

	if err := os.MkdirAll(ws.Prefix, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create install prefix %s: %w", ws.Prefix, err)
	}

	for _, stage := range stageBuildDirs(plan) {
		dir := filepath.Join(ws.Root, string(stage))

		if err := ensureFreshDir(dir); err != nil {
			return nil, err
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create build dir %s: %w", dir, err)
		}
		switch ws.Backing {
		case BackingTmpfs:
			if err := rootExec.MountTmpfs(dir); err != nil {
				ws.Release()
				return nil, err
			}
			ws.mounts = append(ws.mounts, dir)
		case BackingBind:
			// Backed by an external directory (TATARA_BUILD_DIR) so the
			// build tree never lands on the install volume. The backing
			// tree survives unmounting, so it gets the same staleness
			// check as the mount target it will be exposed through.
			backing := filepath.Join(BuildBackingDir, plan.Triple, string(stage))
			if err := ensureFreshDir(backing); err != nil {
				ws.Release()
				return nil, err
			}
			if err := rootExec.BindMount(backing, dir); err != nil {
				ws.Release()
				return nil, err
			}
			ws.mounts = append(ws.mounts, dir)
		}
		ws.BuildDirs[stage] = dir
	}

	if err := linkMathLibraries(plan); err != nil {
		ws.Release()
		return nil, err
	}

	if !plan.SkipUpdate {
		if err := applyGCCPatch(plan); err != nil {
			ws.Release()
			return nil, err
		}
	}

	return ws, nil
}

// linkMathLibraries symlinks gmp, mpfr, mpc and isl into the compiler source
// tree under the fixed names its build system probes for. In tarball mode
// the link targets are the extracted versioned directories; in checkout mode
// they are the plain checkout directories (isl is always a tarball).
func linkMathLibraries(plan *BuildPlan) error {
	gcc := plan.GCCDep()
	gccDir := filepath.Join(SourcesDir, gcc.Dir)
	if !dirExists(gccDir) {
		return fmt.Errorf("compiler source directory %s does not exist; was acquisition run?", gccDir)
	}

	for _, name := range []DepName{DepGMP, DepMPFR, DepMPC, DepISL} {
		dep, ok := plan.Dep(name)
		if !ok {
			return fmt.Errorf("plan has no %s dependency", name)
		}
		target := filepath.Join(SourcesDir, dep.Dir)
		link := filepath.Join(gccDir, string(name))

		if existing, err := os.Readlink(link); err == nil {
			if existing == target {
				continue
			}
			os.Remove(link)
		}
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("failed to symlink %s -> %s: %w", link, target, err)
		}
		debugf("Linked %s -> %s\n", link, target)
	}
	return nil
}
