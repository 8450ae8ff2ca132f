package tatara

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Version-controlled checkouts for the three systems the source matrix uses:
// git (branch/fetch), svn (linear update-in-place at a trunk revision) and
// mercurial (gmp upstream). All three go through external clients via the
// Executor so cancellation kills the whole process group.

func (a *Acquirer) vcsCommand(ctx context.Context, dir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if !Verbose && !Debug {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd
}

// gitCheckout clones (shallow unless full history was requested) or, when the
// tree already exists and updates are allowed, fetches and re-checks-out the
// pinned branch or tag.
func (a *Acquirer) gitCheckout(ctx context.Context, src DependencySource, dest string) error {
	if !dirExists(dest) {
		args := []string{"clone"}
		if !a.FullHistory {
			args = append(args, "--depth", "1")
		}
		if src.Revision != "" {
			args = append(args, "--branch", src.Revision)
		}
		args = append(args, src.URL, dest)
		if err := a.Exec.Run(a.vcsCommand(ctx, "", "git", args...)); err != nil {
			return fmt.Errorf("git clone %s: %w", src.URL, err)
		}
		return nil
	}
	if a.SkipUpdate {
		debugf("Skipping update of %s\n", dest)
		return nil
	}
	_ = a.Exec.Run(a.vcsCommand(ctx, dest, "git", "config", "advice.detachedHead", "false"))
	if err := a.Exec.Run(a.vcsCommand(ctx, dest, "git", "fetch", "origin", src.Revision)); err != nil {
		return fmt.Errorf("git fetch %s: %w", src.Revision, err)
	}
	if err := a.Exec.Run(a.vcsCommand(ctx, dest, "git", "checkout", "FETCH_HEAD")); err != nil {
		return fmt.Errorf("git checkout %s: %w", src.Revision, err)
	}
	return nil
}

// svnCheckout materializes a trunk checkout at the pinned revision, or
// updates an existing one in place.
func (a *Acquirer) svnCheckout(ctx context.Context, src DependencySource, dest string) error {
	if !dirExists(dest) {
		args := []string{"checkout", "-r", src.Revision, src.URL, dest}
		if err := a.Exec.Run(a.vcsCommand(ctx, "", "svn", args...)); err != nil {
			return fmt.Errorf("svn checkout %s: %w", src.URL, err)
		}
		return nil
	}
	if a.SkipUpdate {
		debugf("Skipping update of %s\n", dest)
		return nil
	}
	if err := a.Exec.Run(a.vcsCommand(ctx, dest, "svn", "update", "-r", src.Revision)); err != nil {
		return fmt.Errorf("svn update %s: %w", dest, err)
	}
	return nil
}

// hgCheckout clones a mercurial repository or pulls and updates in place.
func (a *Acquirer) hgCheckout(ctx context.Context, src DependencySource, dest string) error {
	if !dirExists(dest) {
		args := []string{"clone", "-u", src.Revision, src.URL, dest}
		if err := a.Exec.Run(a.vcsCommand(ctx, "", "hg", args...)); err != nil {
			return fmt.Errorf("hg clone %s: %w", src.URL, err)
		}
		return nil
	}
	if a.SkipUpdate {
		debugf("Skipping update of %s\n", dest)
		return nil
	}
	if err := a.Exec.Run(a.vcsCommand(ctx, dest, "hg", "pull", "-u")); err != nil {
		return fmt.Errorf("hg pull %s: %w", dest, err)
	}
	return nil
}
