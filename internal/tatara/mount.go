package tatara

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// MountTmpfs mounts a tmpfs onto dest using the external 'mount' binary via
// e.Run() to ensure proper privilege escalation.
func (e *Executor) MountTmpfs(dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", dest, err)
	}
	cmd := exec.Command("mount", "-t", "tmpfs", "tmpfs", dest)
	debugf("[INFO] Running mount: %s\n", strings.Join(cmd.Args, " "))
	if err := e.Run(cmd); err != nil {
		return fmt.Errorf("tmpfs mount failed for %s: %w", dest, err)
	}
	return nil
}

// BindMount creates the destination directory and bind mounts source onto it.
func (e *Executor) BindMount(source, dest string) error {
	for _, dir := range []string{source, dest} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	cmd := exec.Command("mount", "--bind", source, dest)
	debugf("[INFO] Running mount: %s\n", strings.Join(cmd.Args, " "))
	if err := e.Run(cmd); err != nil {
		return fmt.Errorf("failed to bind mount %s to %s: %w", source, dest, err)
	}
	return nil
}

// UnmountFilesystems unmounts all given paths using 'umount -l'. It iterates
// backwards so mounts nested inside other mounts come off first, and skips
// paths that no longer exist, making it safe to call on any exit path.
func (e *Executor) UnmountFilesystems(paths []string) error {
	var cleanupErrors []string
	for i := len(paths) - 1; i >= 0; i-- {
		path := paths[i]
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if !isMountPoint(path) {
			continue
		}
		debugf("[INFO] Unmounting: %s\n", path)
		cmdUnmount := exec.Command("umount", "-l", path)
		if err := e.Run(cmdUnmount); err != nil {
			cleanupErrors = append(cleanupErrors, fmt.Sprintf("failed to umount %s: %v", path, err))
		}
	}
	if len(cleanupErrors) > 0 {
		return fmt.Errorf("unmount errors occurred:\n%s", strings.Join(cleanupErrors, "\n"))
	}
	return nil
}

// isMountPoint checks /proc/self/mounts for the given path.
func isMountPoint(path string) bool {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == path {
			return true
		}
	}
	return false
}
