package tatara

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// runLog captures the whole run for postmortem debugging of unattended
// builds. Subprocess output always lands here; it is mirrored to stdout only
// in verbose mode.
type runLog struct {
	file *os.File
	Path string
}

func newRunLog(plan *BuildPlan, loc *time.Location) (*runLog, error) {
	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("tatara-%s-%s-gcc%d-%s.log",
		plan.Arch, plan.Flavor, plan.Version, time.Now().In(loc).Format("20060102-150405"))
	path := filepath.Join(LogDir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}
	return &runLog{file: f, Path: path}, nil
}

// Writer returns the sink for subprocess output: quiet unless verbose.
func (l *runLog) Writer() io.Writer {
	if Verbose {
		return io.MultiWriter(os.Stdout, l.file)
	}
	return l.file
}

func (l *runLog) Printf(format string, a ...any) {
	fmt.Fprintf(l.file, format, a...)
}

// Close flushes the log file.
func (l *runLog) Close() {
	_ = l.file.Sync()
	_ = l.file.Close()
}

// Compress writes an xz copy of the log next to it and returns its path; the
// compressed form is what gets delivered to the reporting side-channel.
func (l *runLog) Compress() (string, error) {
	src, err := os.Open(l.Path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	destPath := l.Path + ".xz"
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		return "", err
	}
	if err := xzWriter.Close(); err != nil {
		return "", err
	}
	return destPath, nil
}
