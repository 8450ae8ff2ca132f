package tatara

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// formatDuration renders a wall-clock duration as hours/minutes/seconds with
// correct singular/plural forms, e.g. "1 hour, 12 minutes, 1 second".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	unit := func(n int, name string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, name)
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	var parts []string
	if h > 0 {
		parts = append(parts, unit(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, unit(m, "minute"))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, unit(s, "second"))
	}
	return strings.Join(parts, ", ")
}

// gateBinary is the expected final compiler binary; its existence is the
// sole success signal for the whole run.
func gateBinary(prefix, triple string) string {
	return filepath.Join(prefix, "bin", triple+"-gcc")
}

// installedGCCVersion asks the installed cross compiler for its own version
// string (first line of --version output).
func installedGCCVersion(prefix, triple string) string {
	cmd := exec.Command(gateBinary(prefix, triple), "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "unknown"
	}
	line, _, _ := strings.Cut(out.String(), "\n")
	return strings.TrimSpace(line)
}

// reportResult prints the final summary and returns whether the run
// succeeded. The summary always carries the total duration; on success it
// names the artifact (archive path and size, or the raw install tree).
func reportResult(plan *BuildPlan, prefix, archivePath string, start time.Time, loc *time.Location) bool {
	elapsed := time.Since(start)

	colArrow.Print("-> ")
	colSuccess.Printf("Finished %s at %s (took %s)\n",
		plan.Triple, time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), formatDuration(elapsed))

	if !fileExists(gateBinary(prefix, plan.Triple)) {
		colArrow.Print("-> ")
		colError.Printf("Build FAILED: %s not found\n", gateBinary(prefix, plan.Triple))
		return false
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Compiler: %s\n", installedGCCVersion(prefix, plan.Triple))

	colArrow.Print("-> ")
	if archivePath != "" {
		size := "unknown size"
		if info, err := os.Stat(archivePath); err == nil {
			size = fmt.Sprintf("%.1f MiB", float64(info.Size())/(1024*1024))
		}
		colSuccess.Printf("Artifact: %s (%s)\n", archivePath, size)
	} else {
		colSuccess.Printf("Artifact: %s (packaging skipped)\n", prefix)
	}
	return true
}
