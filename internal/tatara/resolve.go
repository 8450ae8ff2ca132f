package tatara

import (
	"fmt"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Arch is the target architecture selector.
type Arch string

const (
	ArchARM    Arch = "arm"
	ArchARM64  Arch = "arm64"
	ArchI686   Arch = "i686"
	ArchX86_64 Arch = "x86_64"
	ArchHost   Arch = "host"
)

// Flavor selects the compiler source tree: upstream GNU releases or the
// Linaro fork.
type Flavor string

const (
	FlavorGNU    Flavor = "gnu"
	FlavorLinaro Flavor = "linaro"
)

// AcquireMode tells the acquisition layer how a dependency is materialized.
type AcquireMode int

const (
	AcquireGit AcquireMode = iota
	AcquireSVN
	AcquireHg
	AcquireTarball
)

func (m AcquireMode) String() string {
	switch m {
	case AcquireGit:
		return "git"
	case AcquireSVN:
		return "svn"
	case AcquireHg:
		return "hg"
	default:
		return "tarball"
	}
}

// DepName identifies one of the toolchain sub-projects.
type DepName string

const (
	DepBinutils DepName = "binutils"
	DepGMP      DepName = "gmp"
	DepMPFR     DepName = "mpfr"
	DepMPC      DepName = "mpc"
	DepISL      DepName = "isl"
	DepLinux    DepName = "linux"
	DepGlibc    DepName = "glibc"
	DepNewlib   DepName = "newlib"
	DepGCC      DepName = "gcc"
)

// DependencySource describes exactly one fetch target for a sub-project.
type DependencySource struct {
	Name     DepName
	Mode     AcquireMode
	URL      string // clone URL, or download URL for tarballs
	Revision string // branch/tag (git), revision (svn/hg), or version string (tarball)
	Dir      string // directory name under SourcesDir once materialized
	Archive  string // tarball filename, tarball mode only
}

// BuildPlan is the immutable result of resolution. It is produced once and
// threaded by pointer through acquisition, workspace preparation, the stage
// runner and packaging.
type BuildPlan struct {
	Arch        Arch
	Triple      string
	Host        bool // the running machine itself was the requested target
	HostTriple  string
	KernelArch  string
	Flavor      Flavor
	Version     int
	BareMetal   bool
	UseNewlib   bool
	Tarballs    bool
	FullHistory bool
	SkipUpdate  bool
	RAMBuild    bool
	Release     bool
	Jobs        int
	Codec       string // "", "xz", "zstd" or "gzip"
	Deps        []DependencySource
}

// Prefix returns the toolchain install prefix under the given work root.
func (p *BuildPlan) Prefix(workRoot string) string {
	return workRoot + "/" + p.Triple
}

// GCCDep returns the compiler's dependency source entry.
func (p *BuildPlan) GCCDep() DependencySource {
	for _, d := range p.Deps {
		if d.Name == DepGCC {
			return d
		}
	}
	return DependencySource{}
}

// Dep looks up a dependency by name.
func (p *BuildPlan) Dep(name DepName) (DependencySource, bool) {
	for _, d := range p.Deps {
		if d.Name == name {
			return d, true
		}
	}
	return DependencySource{}, false
}

// hostLike reports whether the libgcc support library is built between the
// compiler front-end and the runtime library instead of interleaved inside
// the glibc stage. That order applies to builds targeting the running
// machine itself and to x86_64; both orders are preserved exactly as
// observed.
func (p *BuildPlan) hostLike() bool {
	return p.Host || p.Arch == ArchX86_64
}

// HostInfo carries everything the resolver needs to know about the running
// machine. It is probed once in the CLI and injected so Resolve stays pure.
type HostInfo struct {
	Arch       Arch
	Triple     string
	GCCVersion string // output of `gcc -dumpversion`, empty if no host compiler
}

// ResolveOptions are the raw selections from the CLI.
type ResolveOptions struct {
	Arch        string
	Flavor      string
	Version     int
	BareMetal   bool
	UseNewlib   bool
	Tarballs    bool
	FullHistory bool
	SkipUpdate  bool
	RAMBuild    bool
	Release     bool
	Jobs        int
	Codec       string
	Host        HostInfo
}

// hosted triples per architecture
var archTriples = map[Arch]string{
	ArchARM:    "arm-linux-gnueabihf",
	ArchARM64:  "aarch64-linux-gnu",
	ArchI686:   "i686-linux-gnu",
	ArchX86_64: "x86_64-linux-gnu",
}

// bare-metal suffix substitution, keyed by the hosted triple. Triples not in
// this table are left unchanged.
var bareMetalTriples = map[string]string{
	"arm-linux-gnueabihf": "arm-none-eabi",
	"aarch64-linux-gnu":   "aarch64-elf",
	"i686-linux-gnu":      "i686-elf",
	"x86_64-linux-gnu":    "x86_64-elf",
}

// x86_64 builds below or at this GCC major are not supported.
const x86_64LegacyThreshold = 5

// supported GCC majors per flavor. The Linaro fork only ever shipped 5-7;
// anything outside these maps fails closed with a ValidationError.
var gnuVersions = map[int]string{
	6: "6.5.0", 7: "7.5.0", 8: "8.5.0", 9: "9.5.0", 10: "10.5.0",
	11: "11.5.0", 12: "12.4.0", 13: "13.3.0", 14: "14.2.0", 15: "15.1.0",
	16: "16.1.0",
}

var linaroVersions = map[int]string{
	5: "5.5-2017.10",
	6: "6.5-2018.12",
	7: "7.5-2019.12",
}

// default tarball versions for everything that is not the compiler itself
var tarballVersions = map[DepName]string{
	DepBinutils: "2.44",
	DepGMP:      "6.3.0",
	DepMPFR:     "4.2.1",
	DepMPC:      "1.3.1",
	DepISL:      "0.26",
	DepLinux:    "6.12.9",
	DepGlibc:    "2.41",
	DepNewlib:   "4.5.0.20241231",
}

// default VCS revisions for checkout mode
var checkoutRevisions = map[DepName]string{
	DepBinutils: "binutils-2_44-branch",
	DepMPC:      "master",
	DepGMP:      "tip",
	DepMPFR:     "HEAD",
	DepLinux:    "v6.12",
	DepGlibc:    "release/2.41/master",
	DepNewlib:   "master",
}

// Old compiler majors cannot link against current glibc or ISL; these pins
// override the defaults above for GCC <= 7 (both flavors).
const (
	legacyGCCMax       = 7
	legacyGlibcTarball = "2.27"
	legacyGlibcBranch  = "release/2.27/master"
	legacyISLTarball   = "0.18"
)

// HostArch maps the Go runtime architecture to a target tag. Returns the
// empty Arch for machines the toolchain cannot be built for.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX86_64
	case "arm64":
		return ArchARM64
	case "arm":
		return ArchARM
	case "386":
		return ArchI686
	}
	return ""
}

// Resolve maps the requested (architecture, flavor, version) selection to a
// concrete BuildPlan. It performs no I/O: host facts come in via opts.Host,
// and every unknown combination is rejected here, before anything is fetched.
func Resolve(opts ResolveOptions) (*BuildPlan, error) {
	flavor := Flavor(opts.Flavor)
	switch flavor {
	case FlavorGNU, FlavorLinaro:
	default:
		return nil, validationErrorf("use gnu or linaro", "unknown source flavor %q", opts.Flavor)
	}

	arch := Arch(opts.Arch)
	hostBuild := arch == ArchHost
	if hostBuild {
		if opts.Host.Arch == "" {
			return nil, validationErrorf("build on arm, arm64, i686 or x86_64",
				"host architecture %s is not a supported target", runtime.GOARCH)
		}
		if err := checkHostVersion(opts.Version, opts.Host.GCCVersion); err != nil {
			return nil, err
		}
		arch = opts.Host.Arch
	}

	triple, ok := archTriples[arch]
	if !ok {
		return nil, validationErrorf("supported: arm, arm64, i686, x86_64, host",
			"unsupported architecture %q", opts.Arch)
	}

	if arch == ArchX86_64 && opts.Version <= x86_64LegacyThreshold {
		return nil, validationErrorf(fmt.Sprintf("use a version above %d", x86_64LegacyThreshold),
			"GCC %d is not supported for x86_64", opts.Version)
	}

	gccVersion, err := resolveGCCVersion(flavor, opts.Version)
	if err != nil {
		return nil, err
	}

	useNewlib := opts.UseNewlib
	if opts.BareMetal {
		// bare metal pairs the compiler with newlib; a hosted C library
		// makes no sense without a kernel underneath.
		useNewlib = true
		if bare, ok := bareMetalTriples[triple]; ok {
			triple = bare
		}
	}

	kernelArch := string(arch)
	if arch == ArchI686 || arch == ArchX86_64 {
		kernelArch = "x86"
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	if opts.Codec != "" {
		if _, ok := codecs[opts.Codec]; !ok {
			return nil, validationErrorf("use xz, zstd or gzip", "unknown compression codec %q", opts.Codec)
		}
	}

	plan := &BuildPlan{
		Arch:        arch,
		Triple:      triple,
		Host:        hostBuild,
		HostTriple:  opts.Host.Triple,
		KernelArch:  kernelArch,
		Flavor:      flavor,
		Version:     opts.Version,
		BareMetal:   opts.BareMetal,
		UseNewlib:   useNewlib,
		Tarballs:    opts.Tarballs,
		FullHistory: opts.FullHistory,
		SkipUpdate:  opts.SkipUpdate,
		RAMBuild:    opts.RAMBuild,
		Release:     opts.Release,
		Jobs:        jobs,
		Codec:       opts.Codec,
	}
	plan.Deps = resolveDeps(plan, gccVersion)
	return plan, nil
}

// checkHostVersion rejects "building for the host" unless the requested
// major is strictly newer than the installed compiler.
func checkHostVersion(requested int, installed string) error {
	if installed == "" {
		return nil // no host compiler; anything goes
	}
	have, err := goversion.NewVersion(installed)
	if err != nil {
		debugf("cannot parse host gcc version %q: %v\n", installed, err)
		return nil
	}
	want, err := goversion.NewVersion(fmt.Sprintf("%d", requested))
	if err != nil || !want.GreaterThan(have) {
		return validationErrorf(fmt.Sprintf("host already has GCC %s", installed),
			"GCC %d is not newer than the host compiler", requested)
	}
	return nil
}

func resolveGCCVersion(flavor Flavor, major int) (string, error) {
	switch flavor {
	case FlavorLinaro:
		v, ok := linaroVersions[major]
		if !ok {
			return "", validationErrorf("the Linaro fork only exists for GCC 5-7",
				"no Linaro release for GCC %d", major)
		}
		return v, nil
	default:
		v, ok := gnuVersions[major]
		if !ok {
			return "", validationErrorf("supported GNU majors: 6-16",
				"no GNU release for GCC %d", major)
		}
		return v, nil
	}
}

// resolveDeps builds the per-dependency fetch targets for the plan. Every
// entry is unambiguous: one URL, one revision, one on-disk directory.
func resolveDeps(plan *BuildPlan, gccVersion string) []DependencySource {
	legacy := plan.Version <= legacyGCCMax

	tarball := func(name DepName, ver, url, archive string) DependencySource {
		return DependencySource{
			Name: name, Mode: AcquireTarball,
			URL:      url,
			Revision: ver,
			Dir:      fmt.Sprintf("%s-%s", name, ver),
			Archive:  archive,
		}
	}

	var deps []DependencySource

	if plan.Tarballs {
		add := func(name DepName, ver, baseURL string) {
			archive := fmt.Sprintf("%s-%s.tar.xz", name, ver)
			deps = append(deps, tarball(name, ver, baseURL+"/"+archive, archive))
		}
		add(DepBinutils, tarballVersions[DepBinutils], gnuOriginalURL+"/binutils")
		add(DepGMP, tarballVersions[DepGMP], gnuOriginalURL+"/gmp")
		add(DepMPFR, tarballVersions[DepMPFR], gnuOriginalURL+"/mpfr")
		add(DepMPC, tarballVersions[DepMPC], gnuOriginalURL+"/mpc")

		isl := tarballVersions[DepISL]
		if legacy {
			isl = legacyISLTarball
		}
		add(DepISL, isl, "https://libisl.sourceforge.io")
		add(DepLinux, tarballVersions[DepLinux], "https://cdn.kernel.org/pub/linux/kernel/v6.x")

		if plan.UseNewlib {
			nv := tarballVersions[DepNewlib]
			archive := fmt.Sprintf("newlib-%s.tar.gz", nv)
			deps = append(deps, tarball(DepNewlib, nv,
				"https://sourceware.org/pub/newlib/"+archive, archive))
		} else {
			glibc := tarballVersions[DepGlibc]
			if legacy {
				glibc = legacyGlibcTarball
			}
			add(DepGlibc, glibc, gnuOriginalURL+"/glibc")
		}

		gccArchive := fmt.Sprintf("gcc-%s.tar.xz", gccVersion)
		gccURL := fmt.Sprintf("%s/gcc/gcc-%s/%s", gnuOriginalURL, gccVersion, gccArchive)
		if plan.Flavor == FlavorLinaro {
			gccArchive = fmt.Sprintf("gcc-linaro-%s.tar.xz", gccVersion)
			gccURL = fmt.Sprintf("https://releases.linaro.org/components/toolchain/gcc-linaro/%s/%s",
				gccVersion, gccArchive)
		}
		deps = append(deps, DependencySource{
			Name: DepGCC, Mode: AcquireTarball,
			URL: gccURL, Revision: gccVersion,
			Dir:     strings.TrimSuffix(gccArchive, ".tar.xz"),
			Archive: gccArchive,
		})
		return deps
	}

	// checkout mode: binutils/gcc/glibc/newlib/linux/mpc over git, gmp over
	// mercurial, mpfr over svn (updated in place at trunk)
	checkout := func(name DepName, mode AcquireMode, url, rev string) DependencySource {
		return DependencySource{Name: name, Mode: mode, URL: url, Revision: rev, Dir: string(name)}
	}

	deps = append(deps,
		checkout(DepBinutils, AcquireGit, "https://sourceware.org/git/binutils-gdb.git", checkoutRevisions[DepBinutils]),
		checkout(DepGMP, AcquireHg, "https://gmplib.org/repo/gmp/", checkoutRevisions[DepGMP]),
		checkout(DepMPFR, AcquireSVN, "https://scm.gforge.inria.fr/anonscm/svn/mpfr/trunk", checkoutRevisions[DepMPFR]),
		checkout(DepMPC, AcquireGit, "https://gitlab.inria.fr/mpc/mpc.git", checkoutRevisions[DepMPC]),
		checkout(DepLinux, AcquireGit, "https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git", checkoutRevisions[DepLinux]),
	)

	// ISL has no public checkout worth tracking; it is always a tarball.
	isl := tarballVersions[DepISL]
	if legacy {
		isl = legacyISLTarball
	}
	islArchive := fmt.Sprintf("isl-%s.tar.xz", isl)
	deps = append(deps, tarball(DepISL, isl, "https://libisl.sourceforge.io/"+islArchive, islArchive))

	if plan.UseNewlib {
		deps = append(deps, checkout(DepNewlib, AcquireGit,
			"https://sourceware.org/git/newlib-cygwin.git", checkoutRevisions[DepNewlib]))
	} else {
		branch := checkoutRevisions[DepGlibc]
		if legacy {
			branch = legacyGlibcBranch
		}
		deps = append(deps, checkout(DepGlibc, AcquireGit, "https://sourceware.org/git/glibc.git", branch))
	}

	gccURL := "https://gcc.gnu.org/git/gcc.git"
	gccRev := fmt.Sprintf("releases/gcc-%d", plan.Version)
	if plan.Flavor == FlavorLinaro {
		gccURL = "https://git.linaro.org/toolchain/gcc.git"
		gccRev = fmt.Sprintf("releases/linaro-%s", gccVersion)
	}
	deps = append(deps, checkout(DepGCC, AcquireGit, gccURL, gccRev))
	return deps
}
