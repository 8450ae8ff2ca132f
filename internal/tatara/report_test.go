package tatara

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{45 * time.Second, "45 seconds"},
		{time.Minute, "1 minute"},
		{61 * time.Second, "1 minute, 1 second"},
		{time.Hour + time.Second, "1 hour, 1 second"},
		{time.Hour + time.Minute + time.Second, "1 hour, 1 minute, 1 second"},
		{2 * time.Hour, "2 hours"},
		{3*time.Hour + 25*time.Minute, "3 hours, 25 minutes"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatDuration(tt.d), tt.d.String())
	}
}

func TestGateBinary(t *testing.T) {
	require.Equal(t, "/opt/cross/aarch64-linux-gnu/bin/aarch64-linux-gnu-gcc",
		gateBinary("/opt/cross/aarch64-linux-gnu", "aarch64-linux-gnu"))
}

func TestReportResult(t *testing.T) {
	plan := &BuildPlan{Triple: "aarch64-linux-gnu", Flavor: FlavorGNU, Version: 11}
	start := time.Now().Add(-time.Minute)

	t.Run("missing compiler fails the run", func(t *testing.T) {
		ok := reportResult(plan, t.TempDir(), "", start, time.UTC)
		require.False(t, ok)
	})

	t.Run("present compiler succeeds", func(t *testing.T) {
		prefix := t.TempDir()
		bin := filepath.Join(prefix, "bin")
		require.NoError(t, os.MkdirAll(bin, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(bin, "aarch64-linux-gnu-gcc"), []byte("ELF"), 0o755))

		ok := reportResult(plan, prefix, "", start, time.UTC)
		require.True(t, ok, "the gate binary existing is the success signal")
	})
}

func TestInstalledGCCVersionUnknown(t *testing.T) {
	require.Equal(t, "unknown", installedGCCVersion(t.TempDir(), "aarch64-linux-gnu"))
}
