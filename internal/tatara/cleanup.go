package tatara

import (
	"flag"
	"fmt"
	"os/exec"
	"path/filepath"
)

func handleCleanupCommand(args []string) error {
	cleanupCmd := flag.NewFlagSet("cleanup", flag.ExitOnError)
	cleanSources := cleanupCmd.Bool("sources", false, "Remove all cached sources and tarballs.")
	cleanBuilds := cleanupCmd.Bool("builds", false, "Remove all build directories.")
	cleanLogs := cleanupCmd.Bool("logs", false, "Remove all run logs.")
	cleanAll := cleanupCmd.Bool("all", false, "sources, builds and logs.")

	if err := cleanupCmd.Parse(args); err != nil {
		return err
	}

	if !*cleanSources && !*cleanBuilds && !*cleanLogs && !*cleanAll {
		fmt.Println("Usage: tatara cleanup [flag]")
		fmt.Println("You must specify what to clean up. Use one of the following flags:")
		cleanupCmd.PrintDefaults()
		return nil
	}

	if *cleanAll {
		*cleanSources = true
		*cleanBuilds = true
		*cleanLogs = true
	}

	remove := func(what, path string) error {
		colArrow.Print("-> ")
		cPrintf(colWarn, "Deleting %s at %s.\n", what, path)
		if !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			colSuccess.Printf("Cleanup of %s canceled.\n", what)
			return nil
		}
		rmCmd := exec.Command("rm", "-rf", path)
		if err := RootExec.Run(rmCmd); err != nil {
			return fmt.Errorf("failed to remove %s: %w", what, err)
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Removed %s.\n", what)
		return nil
	}

	if *cleanSources {
		if err := remove("source cache", SourcesDir); err != nil {
			return err
		}
	}
	if *cleanBuilds {
		for _, dir := range []string{filepath.Join(WorkDir, "build"), BuildBackingDir} {
			if !dirExists(dir) {
				continue
			}
			if err := remove("build directories", dir); err != nil {
				return err
			}
		}
	}
	if *cleanLogs {
		if err := remove("run logs", LogDir); err != nil {
			return err
		}
	}
	return nil
}
