package tatara

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Default handshake timeout is 10s; some source hosts are slow.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Minute, // GCC tarballs are large
	}
}

// applyGnuMirror replaces a canonical GNU URL with the configured mirror.
func applyGnuMirror(originalURL string) string {
	if gnuMirrorURL != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, gnuMirrorURL, 1)
	}
	return originalURL
}

// downloadFile downloads a URL into destFile. A segmented downloader is
// preferred for the large release tarballs, then curl, then wget, then the
// native HTTP client. The flock around the destination keeps concurrent runs
// sharing one cache from corrupting each other.
func downloadFile(originalURL, destFile string) error {
	finalURL := applyGnuMirror(originalURL)
	if originalURL != finalURL {
		gnuMirrorMessageOnce.Do(func() {
			colArrow.Print("-> ")
			colSuccess.Printf("Using GNU mirror: %s\n", gnuMirrorURL)
		})
	}

	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destFile, err)
	}

	lockPath := destFile + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Blocks while another process downloads the same file.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Double check now that we hold the lock: another run may have finished
	// the download while we were waiting.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if _, err := os.Stat(destFile); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", finalURL, destFile)

	// --- Primary choice: aria2c, segmented ---
	if _, err := exec.LookPath("aria2c"); err == nil {
		args := []string{
			"-x", "4", "-s", "4", "--file-allocation=none",
			"-d", filepath.Dir(destFile), "-o", filepath.Base(destFile),
		}
		if !Verbose {
			args = append(args, "--console-log-level=warn", "--summary-interval=0")
		}
		cmd := exec.Command("aria2c", append(args, finalURL)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("aria2c failed, falling back to curl\n")
	}

	// --- Fallback 1: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		args := []string{"-L", "--fail", "-o", destFile}
		if Verbose {
			args = append(args, "-#")
		} else {
			args = append(args, "-sS")
		}
		cmd := exec.Command("curl", append(args, finalURL)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	}

	// --- Fallback 2: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-nv", "-O", destFile}
		cmd := exec.Command("wget", append(args, finalURL)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	}

	// --- Fallback 3: native Go HTTP client ---
	return nativeDownload(finalURL, destFile)
}

func nativeDownload(url, destFile string) error {
	client := newHTTPClient()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destFile, err)
	}
	defer out.Close()

	var w io.Writer = out
	if Verbose {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	debugf("Download successful with native Go HTTP client.\n")
	return nil
}
