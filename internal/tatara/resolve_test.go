package tatara

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func gnuOpts(arch string, version int) ResolveOptions {
	return ResolveOptions{Arch: arch, Flavor: "gnu", Version: version}
}

func TestResolveHostedTargets(t *testing.T) {
	tests := []struct {
		arch       string
		triple     string
		kernelArch string
	}{
		{"arm", "arm-linux-gnueabihf", "arm"},
		{"arm64", "aarch64-linux-gnu", "arm64"},
		{"i686", "i686-linux-gnu", "x86"},
		{"x86_64", "x86_64-linux-gnu", "x86"},
	}
	for _, tt := range tests {
		t.Run(tt.arch, func(t *testing.T) {
			plan, err := Resolve(gnuOpts(tt.arch, 11))
			require.NoError(t, err)
			require.Equal(t, tt.triple, plan.Triple)
			require.Equal(t, tt.kernelArch, plan.KernelArch)
			require.False(t, plan.UseNewlib)
			require.Greater(t, plan.Jobs, 0)
		})
	}
}

func TestResolveRejectsUnknownSelections(t *testing.T) {
	tests := []struct {
		name string
		opts ResolveOptions
	}{
		{"unknown flavor", ResolveOptions{Arch: "arm64", Flavor: "musl", Version: 11}},
		{"unknown arch", ResolveOptions{Arch: "mips", Flavor: "gnu", Version: 11}},
		{"gnu major too new", gnuOpts("arm64", 17)},
		{"gnu major too old", gnuOpts("arm", 5)},
		{"linaro never shipped 8", ResolveOptions{Arch: "arm", Flavor: "linaro", Version: 8}},
		{"x86_64 at legacy threshold", gnuOpts("x86_64", 5)},
		{"x86_64 linaro below threshold", ResolveOptions{Arch: "x86_64", Flavor: "linaro", Version: 5}},
		{"unknown codec", ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 11, Codec: "lz4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.opts)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Hint)
		})
	}
}

func TestResolveLinaro(t *testing.T) {
	plan, err := Resolve(ResolveOptions{Arch: "arm", Flavor: "linaro", Version: 5})
	require.NoError(t, err)
	require.Equal(t, FlavorLinaro, plan.Flavor)
	require.Equal(t, "arm-linux-gnueabihf", plan.Triple)

	gcc := plan.GCCDep()
	require.Equal(t, "releases/linaro-5.5-2017.10", gcc.Revision)
	require.Contains(t, gcc.URL, "git.linaro.org")
}

func TestResolveBareMetal(t *testing.T) {
	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 13, BareMetal: true})
	require.NoError(t, err)
	require.True(t, plan.UseNewlib, "bare metal must imply newlib")
	require.Equal(t, "aarch64-elf", plan.Triple)

	_, hasNewlib := plan.Dep(DepNewlib)
	require.True(t, hasNewlib)
	_, hasGlibc := plan.Dep(DepGlibc)
	require.False(t, hasGlibc)

	require.Equal(t,
		[]Stage{StageBinutils, StageGCCFrontend, StageRuntimeNewlib, StageGCCFinalize},
		plan.Stages(), "bare metal skips the kernel headers stage")
}

func TestResolveHostedStageOrder(t *testing.T) {
	plan, err := Resolve(gnuOpts("arm64", 11))
	require.NoError(t, err)
	require.Equal(t,
		[]Stage{StageBinutils, StageHeaders, StageGCCFrontend, StageRuntimeGlibc, StageGCCFinalize},
		plan.Stages())
}

func TestResolveHostTarget(t *testing.T) {
	t.Run("unsupported host machine", func(t *testing.T) {
		_, err := Resolve(ResolveOptions{Arch: "host", Flavor: "gnu", Version: 13})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	host := HostInfo{Arch: ArchX86_64, Triple: "x86_64-linux-gnu", GCCVersion: "12.2.0"}

	t.Run("not newer than installed", func(t *testing.T) {
		_, err := Resolve(ResolveOptions{Arch: "host", Flavor: "gnu", Version: 12, Host: host})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("newer than installed", func(t *testing.T) {
		plan, err := Resolve(ResolveOptions{Arch: "host", Flavor: "gnu", Version: 13, Host: host})
		require.NoError(t, err)
		require.Equal(t, ArchX86_64, plan.Arch)
		require.Equal(t, "x86_64-linux-gnu", plan.HostTriple)
		require.True(t, plan.Host)
	})

	t.Run("host selection drives libgcc ordering on any machine", func(t *testing.T) {
		plan, err := Resolve(ResolveOptions{Arch: "host", Flavor: "gnu", Version: 13,
			Host: HostInfo{Arch: ArchARM64, Triple: "aarch64-linux-gnu"}})
		require.NoError(t, err)
		require.Equal(t, ArchARM64, plan.Arch)
		require.True(t, plan.hostLike())

		cross, err := Resolve(gnuOpts("arm64", 13))
		require.NoError(t, err)
		require.False(t, cross.Host)
		require.False(t, cross.hostLike())
	})

	t.Run("no installed compiler", func(t *testing.T) {
		_, err := Resolve(ResolveOptions{Arch: "host", Flavor: "gnu", Version: 13,
			Host: HostInfo{Arch: ArchX86_64}})
		require.NoError(t, err)
	})
}

func TestCheckHostVersion(t *testing.T) {
	require.NoError(t, checkHostVersion(6, ""))
	require.NoError(t, checkHostVersion(15, "14.2.0"))
	require.Error(t, checkHostVersion(14, "14.2.0"))
	require.Error(t, checkHostVersion(13, "14.2.0"))
	require.NoError(t, checkHostVersion(13, "not-a-version"))
}

func TestResolveLegacyPins(t *testing.T) {
	t.Run("tarballs", func(t *testing.T) {
		plan, err := Resolve(ResolveOptions{Arch: "arm", Flavor: "gnu", Version: 7, Tarballs: true})
		require.NoError(t, err)

		glibc, ok := plan.Dep(DepGlibc)
		require.True(t, ok)
		require.Equal(t, "2.27", glibc.Revision)

		isl, ok := plan.Dep(DepISL)
		require.True(t, ok)
		require.Equal(t, "0.18", isl.Revision)
	})

	t.Run("checkouts", func(t *testing.T) {
		plan, err := Resolve(ResolveOptions{Arch: "arm", Flavor: "gnu", Version: 7})
		require.NoError(t, err)

		glibc, ok := plan.Dep(DepGlibc)
		require.True(t, ok)
		require.Equal(t, "release/2.27/master", glibc.Revision)
	})

	t.Run("modern defaults", func(t *testing.T) {
		plan, err := Resolve(ResolveOptions{Arch: "arm", Flavor: "gnu", Version: 13, Tarballs: true})
		require.NoError(t, err)

		glibc, _ := plan.Dep(DepGlibc)
		require.Equal(t, "2.41", glibc.Revision)
		isl, _ := plan.Dep(DepISL)
		require.Equal(t, "0.26", isl.Revision)
	})
}

func TestResolveCheckoutModes(t *testing.T) {
	plan, err := Resolve(gnuOpts("arm64", 11))
	require.NoError(t, err)

	modes := map[DepName]AcquireMode{}
	for _, d := range plan.Deps {
		modes[d.Name] = d.Mode
	}
	require.Equal(t, AcquireGit, modes[DepBinutils])
	require.Equal(t, AcquireHg, modes[DepGMP])
	require.Equal(t, AcquireSVN, modes[DepMPFR])
	require.Equal(t, AcquireGit, modes[DepMPC])
	require.Equal(t, AcquireGit, modes[DepLinux])
	require.Equal(t, AcquireGit, modes[DepGlibc])
	require.Equal(t, AcquireTarball, modes[DepISL], "isl is always fetched as a tarball")

	gcc := plan.GCCDep()
	require.Equal(t, AcquireGit, gcc.Mode)
	require.Equal(t, "releases/gcc-11", gcc.Revision)
}

func TestResolveTarballURLs(t *testing.T) {
	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 11, Tarballs: true})
	require.NoError(t, err)

	gcc := plan.GCCDep()
	require.Equal(t, "https://ftp.gnu.org/gnu/gcc/gcc-11.5.0/gcc-11.5.0.tar.xz", gcc.URL)
	require.Equal(t, "gcc-11.5.0", gcc.Dir)

	binutils, _ := plan.Dep(DepBinutils)
	require.Equal(t, "https://ftp.gnu.org/gnu/binutils/binutils-2.44.tar.xz", binutils.URL)
	require.Equal(t, "binutils-2.44.tar.xz", binutils.Archive)

	linux, _ := plan.Dep(DepLinux)
	require.Contains(t, linux.URL, "cdn.kernel.org")
}

func TestResolveNewlibTarball(t *testing.T) {
	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 13, UseNewlib: true, Tarballs: true})
	require.NoError(t, err)

	newlib, ok := plan.Dep(DepNewlib)
	require.True(t, ok)
	require.Contains(t, newlib.URL, "sourceware.org/pub/newlib")
	require.Contains(t, newlib.Archive, ".tar.gz")
}

func TestResolveJobs(t *testing.T) {
	plan, err := Resolve(ResolveOptions{Arch: "arm64", Flavor: "gnu", Version: 11, Jobs: 4})
	require.NoError(t, err)
	require.Equal(t, 4, plan.Jobs)
}
