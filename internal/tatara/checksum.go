package tatara

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

// BLAKE3 sums for every downloaded tarball, recorded on first download and
// verified on later runs. Uses the system b3sum when present, otherwise the
// native implementation.

func hashFile(path string) (string, error) {
	if _, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command("b3sum", "--no-names", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			sum := strings.TrimSpace(out.String())
			if sum != "" {
				return sum, nil
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func checksumDBPath() string {
	return filepath.Join(CacheStore, "checksums")
}

func loadChecksums() map[string]string {
	sums := make(map[string]string)
	f, err := os.Open(checksumDBPath())
	if err != nil {
		return sums
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 {
			sums[fields[1]] = fields[0]
		}
	}
	return sums
}

func saveChecksums(sums map[string]string) error {
	var b strings.Builder
	for name, sum := range sums {
		fmt.Fprintf(&b, "%s  %s\n", sum, name)
	}
	return os.WriteFile(checksumDBPath(), []byte(b.String()), 0o644)
}

// verifyOrRecordChecksum hashes the archive. A recorded sum that no longer
// matches is a corrupt cache entry, which is fatal; a missing entry is
// recorded for next time.
func verifyOrRecordChecksum(archivePath string) error {
	name := filepath.Base(archivePath)
	sum, err := hashFile(archivePath)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", name, err)
	}

	sums := loadChecksums()
	if recorded, ok := sums[name]; ok {
		if recorded != sum {
			return &IntegrityError{Path: archivePath,
				Msg: fmt.Sprintf("checksum mismatch: recorded %s, got %s", recorded, sum)}
		}
		debugf("Checksum OK: %s\n", name)
		return nil
	}

	sums[name] = sum
	if err := saveChecksums(sums); err != nil {
		return fmt.Errorf("failed to record checksum for %s: %w", name, err)
	}
	debugf("Recorded checksum for %s\n", name)
	return nil
}
