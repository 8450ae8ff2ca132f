package tatara

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

//go:embed assets/patches/*.patch
var embeddedPatches embed.FS

// Each supported compiler version range carries exactly one source patch
// fixing a version-specific header or declaration regression against modern
// host toolchains. Versions outside every range build unpatched.
var gccPatchRanges = []struct {
	Min, Max int
	Name     string
}{
	{5, 6, "gcc5-ustat.patch"},
	{7, 8, "gcc7-ucontext.patch"},
	{9, 10, "gcc9-cyclades.patch"},
	{11, 12, "gcc11-crypt.patch"},
}

// selectGCCPatch returns the patch file for a compiler major, if any.
func selectGCCPatch(version int) (string, bool) {
	for _, r := range gccPatchRanges {
		if version >= r.Min && version <= r.Max {
			return r.Name, true
		}
	}
	return "", false
}

// applyGCCPatch applies the version-selected patch to the compiler source
// tree. Already-applied patches are tolerated (re-runs over an existing
// checkout); any other failure is a PatchError and fatal.
func applyGCCPatch(plan *BuildPlan) error {
	name, ok := selectGCCPatch(plan.Version)
	if !ok {
		debugf("No patch needed for GCC %d\n", plan.Version)
		return nil
	}

	gccDir := filepath.Join(SourcesDir, plan.GCCDep().Dir)
	if !dirExists(gccDir) {
		return fmt.Errorf("compiler source directory %s does not exist; was acquisition run?", gccDir)
	}

	data, err := embeddedPatches.ReadFile(filepath.Join("assets/patches", name))
	if err != nil {
		return &PatchError{Patch: name, Err: fmt.Errorf("embedded patch missing: %w", err)}
	}

	tmp, err := os.CreateTemp("", "tatara-*.patch")
	if err != nil {
		return &PatchError{Patch: name, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PatchError{Patch: name, Err: err}
	}
	tmp.Close()

	colArrow.Print("-> ")
	colSuccess.Printf("Applying %s\n", name)

	cmd := exec.Command("patch", "-p1", "--forward", "-i", tmpPath)
	cmd.Dir = gccDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if strings.Contains(out.String(), "previously applied") {
			debugf("Patch %s already applied\n", name)
			return nil
		}
		return &PatchError{Patch: name, Err: fmt.Errorf("%v: %s", err, out.String())}
	}
	return nil
}
