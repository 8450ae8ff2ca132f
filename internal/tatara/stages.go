package tatara

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Stage is one configure/compile/install unit of the pipeline.
type Stage string

const (
	StageBinutils      Stage = "binutils"
	StageHeaders       Stage = "headers"
	StageGCCFrontend   Stage = "gcc-frontend"
	StageRuntimeGlibc  Stage = "glibc"
	StageRuntimeNewlib Stage = "newlib"
	StageGCCFinalize   Stage = "gcc-finalize"
)

// Stages returns the ordered pipeline for the plan. Kernel headers are only
// installed for a hosted C library; newlib carries its own.
func (p *BuildPlan) Stages() []Stage {
	stages := []Stage{StageBinutils}
	if !p.UseNewlib {
		stages = append(stages, StageHeaders)
	}
	stages = append(stages, StageGCCFrontend)
	if p.UseNewlib {
		stages = append(stages, StageRuntimeNewlib)
	} else {
		stages = append(stages, StageRuntimeGlibc)
	}
	return append(stages, StageGCCFinalize)
}

// baseline configure flags shared by every stage
var baselineConfigureFlags = []string{"--disable-multilib", "--disable-werror"}

const hardenedCFlags = "-O2 -pipe -fstack-protector-strong"

// stageRunner executes the pipeline strictly in order, one subprocess at a
// time. Parallelism exists only inside make via the plan's job count. The
// run hook is replaceable for tests.
type stageRunner struct {
	plan *BuildPlan
	ws   *Workspace
	exec *Executor
	env  []string

	run func(cmd *exec.Cmd) error
}

func newStageRunner(plan *BuildPlan, ws *Workspace, execCtx *Executor, toolBin string) *stageRunner {
	r := &stageRunner{
		plan: plan,
		ws:   ws,
		exec: execCtx,
		env:  stageEnv(toolBin, ws.Prefix),
	}
	r.run = execCtx.Run
	return r
}

// stageEnv builds the explicit child environment: the local tool prefix and
// the toolchain's own bin dir lead PATH, and the hardened compile flags
// replace whatever the caller exported.
func stageEnv(toolBin, prefix string) []string {
	var env []string
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		switch key {
		case "PATH", "CFLAGS", "CXXFLAGS", "LDFLAGS":
			continue
		}
		env = append(env, e)
	}
	path := filepath.Join(prefix, "bin") + ":" + os.Getenv("PATH")
	if toolBin != "" {
		path = toolBin + ":" + path
	}
	return append(env,
		"PATH="+path,
		"CFLAGS="+hardenedCFlags,
		"CXXFLAGS="+hardenedCFlags,
	)
}

func (r *stageRunner) command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = r.env
	return cmd
}

func (r *stageRunner) configure(ctx context.Context, buildDir, srcDir string, extra ...string) error {
	args := append(append([]string{}, extra...), baselineConfigureFlags...)
	return r.run(r.command(ctx, buildDir, filepath.Join(srcDir, "configure"), args...))
}

func (r *stageRunner) make(ctx context.Context, buildDir string, args ...string) error {
	return r.run(r.command(ctx, buildDir, "make", args...))
}

func (r *stageRunner) makeJobs(ctx context.Context, buildDir string, args ...string) error {
	return r.make(ctx, buildDir, append([]string{fmt.Sprintf("-j%d", r.plan.Jobs)}, args...)...)
}

func (r *stageRunner) srcDir(name DepName) string {
	dep, _ := r.plan.Dep(name)
	return filepath.Join(SourcesDir, dep.Dir)
}

// Run executes every stage of the plan in order. The first failing
// configure/compile/install invocation aborts the remaining pipeline; there
// is no retry inside a stage.
func (r *stageRunner) Run(ctx context.Context) error {
	for _, stage := range r.plan.Stages() {
		colArrow.Print("-> ")
		colSuccess.Printf("Stage %s\n", stage)
		start := time.Now()

		var err error
		switch stage {
		case StageBinutils:
			err = r.binutils(ctx)
		case StageHeaders:
			err = r.headers(ctx)
		case StageGCCFrontend:
			err = r.gccFrontend(ctx)
		case StageRuntimeGlibc:
			err = r.runtimeGlibc(ctx)
		case StageRuntimeNewlib:
			err = r.runtimeNewlib(ctx)
		case StageGCCFinalize:
			err = r.gccFinalize(ctx)
		}
		if err != nil {
			return &StageError{Stage: stage, Err: err}
		}
		debugf("Stage %s finished in %s\n", stage, time.Since(start).Round(time.Second))
	}
	return nil
}

func (r *stageRunner) binutils(ctx context.Context) error {
	bd := r.ws.BuildDir(StageBinutils)
	if err := r.configure(ctx, bd, r.srcDir(DepBinutils),
		"--target="+r.plan.Triple,
		"--prefix="+r.ws.Prefix,
		"--with-sysroot",
	); err != nil {
		return err
	}
	if err := r.makeJobs(ctx, bd); err != nil {
		return err
	}
	return r.make(ctx, bd, "install")
}

// headers installs the sanitized kernel headers straight out of the kernel
// tree; there is no configure step.
func (r *stageRunner) headers(ctx context.Context) error {
	return r.make(ctx, r.srcDir(DepLinux),
		"ARCH="+r.plan.KernelArch,
		"INSTALL_HDR_PATH="+filepath.Join(r.ws.Prefix, r.plan.Triple),
		"headers_install",
	)
}

func (r *stageRunner) gccFrontend(ctx context.Context) error {
	bd := r.ws.BuildDir(StageGCCFrontend)
	args := []string{
		"--target=" + r.plan.Triple,
		"--prefix=" + r.ws.Prefix,
		"--enable-languages=c,c++",
	}
	if r.plan.UseNewlib {
		args = append(args, "--with-newlib", "--without-headers")
	}
	if err := r.configure(ctx, bd, r.srcDir(DepGCC), args...); err != nil {
		return err
	}
	if err := r.makeJobs(ctx, bd, "all-gcc"); err != nil {
		return err
	}
	if err := r.make(ctx, bd, "install-gcc"); err != nil {
		return err
	}
	// For host-style targets the support library goes in right here, before
	// the runtime library stage; everywhere else it is interleaved into the
	// glibc stage below. Observed orders, preserved as-is.
	if r.plan.hostLike() && !r.plan.UseNewlib {
		if err := r.makeJobs(ctx, bd, "all-target-libgcc"); err != nil {
			return err
		}
		return r.make(ctx, bd, "install-target-libgcc")
	}
	return nil
}

// runtimeGlibc builds the hosted C library. The first half bootstraps just
// enough of it (headers, startup objects, a stub shared libc, the stub
// marker header) for libgcc to complete, then the full library is compiled
// against the finished support library.
func (r *stageRunner) runtimeGlibc(ctx context.Context) error {
	bd := r.ws.BuildDir(StageRuntimeGlibc)
	sysroot := filepath.Join(r.ws.Prefix, r.plan.Triple)

	args := []string{
		"--prefix=" + sysroot,
		"--host=" + r.plan.Triple,
		"--target=" + r.plan.Triple,
		"--with-headers=" + filepath.Join(sysroot, "include"),
		"libc_cv_forced_unwind=yes",
	}
	if r.plan.HostTriple != "" {
		args = append(args, "--build="+r.plan.HostTriple)
	}
	if err := r.configure(ctx, bd, r.srcDir(DepGlibc), args...); err != nil {
		return err
	}

	if err := r.make(ctx, bd, "install-bootstrap-headers=yes", "install-headers"); err != nil {
		return err
	}
	if err := r.makeJobs(ctx, bd, "csu/subdir_lib"); err != nil {
		return err
	}
	if err := installStartupObjects(bd, sysroot); err != nil {
		return err
	}
	if err := r.stubSharedLibc(ctx, sysroot); err != nil {
		return err
	}
	if err := writeStubsHeader(sysroot); err != nil {
		return err
	}

	if !r.plan.hostLike() {
		gccBuild := r.ws.BuildDir(StageGCCFrontend)
		if err := r.makeJobs(ctx, gccBuild, "all-target-libgcc"); err != nil {
			return err
		}
		if err := r.make(ctx, gccBuild, "install-target-libgcc"); err != nil {
			return err
		}
	}

	if err := r.makeJobs(ctx, bd); err != nil {
		return err
	}
	return r.make(ctx, bd, "install")
}

// installStartupObjects copies the freshly built C runtime startup objects
// into the target lib dir.
func installStartupObjects(buildDir, sysroot string) error {
	libDir := filepath.Join(sysroot, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return err
	}
	for _, obj := range []string{"crt1.o", "crti.o", "crtn.o"} {
		src := filepath.Join(buildDir, "csu", obj)
		if err := copyFile(src, filepath.Join(libDir, obj)); err != nil {
			return fmt.Errorf("failed to install %s: %w", obj, err)
		}
	}
	return nil
}

// stubSharedLibc manufactures an empty shared libc so the libgcc link has
// something to resolve against before the real library exists.
func (r *stageRunner) stubSharedLibc(ctx context.Context, sysroot string) error {
	gcc := filepath.Join(r.ws.Prefix, "bin", r.plan.Triple+"-gcc")
	out := filepath.Join(sysroot, "lib", "libc.so")
	return r.run(r.command(ctx, "",
		gcc, "-nostdlib", "-nostartfiles", "-shared", "-x", "c", "/dev/null", "-o", out))
}

// writeStubsHeader synthesizes the empty gnu/stubs.h marker that the
// compiler's self-check includes before glibc has installed the real one.
func writeStubsHeader(sysroot string) error {
	dir := filepath.Join(sysroot, "include", "gnu")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "stubs.h"), []byte{}, 0o644)
}

func (r *stageRunner) runtimeNewlib(ctx context.Context) error {
	bd := r.ws.BuildDir(StageRuntimeNewlib)
	if err := r.configure(ctx, bd, r.srcDir(DepNewlib),
		"--target="+r.plan.Triple,
		"--prefix="+r.ws.Prefix,
	); err != nil {
		return err
	}
	if err := r.makeJobs(ctx, bd); err != nil {
		return err
	}
	return r.make(ctx, bd, "install")
}

// gccFinalize re-runs the full compiler build now that the target runtime
// library exists, then drops the two known-broken lines from the generated
// fixed limits header.
func (r *stageRunner) gccFinalize(ctx context.Context) error {
	bd := r.ws.BuildDir(StageGCCFrontend)
	if err := r.makeJobs(ctx, bd, "all"); err != nil {
		return err
	}
	if err := r.make(ctx, bd, "install"); err != nil {
		return err
	}
	return fixInstalledLimitsHeader(r.ws.Prefix, r.plan.Triple)
}

// The generated include-fixed/limits.h chains to the host header through
// include_next, which breaks freestanding users of the cross compiler.
var brokenLimitsLines = map[string]bool{
	"#include_next <limits.h>":   true,
	"#define _GCC_NEXT_LIMITS_H": true,
}

func fixInstalledLimitsHeader(prefix, triple string) error {
	matches, err := filepath.Glob(filepath.Join(prefix, "lib", "gcc", triple, "*", "include-fixed", "limits.h"))
	if err != nil || len(matches) == 0 {
		debugf("No fixed limits.h found under %s, skipping\n", prefix)
		return nil
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fixed := filterBrokenLimitsLines(string(data))
		if fixed == string(data) {
			continue
		}
		if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
			return err
		}
		debugf("Suppressed broken include_next lines in %s\n", path)
	}
	return nil
}

func filterBrokenLimitsLines(content string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if brokenLimitsLines[strings.TrimSpace(line)] {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
