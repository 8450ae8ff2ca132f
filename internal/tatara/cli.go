package tatara

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// activeWorkspace is what the signal handler releases; the normal exit path
// releases the same workspace again, which is safe because Release is
// idempotent.
var activeWorkspace atomic.Pointer[Workspace]

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: tatara <command> [arguments]")
	colSuccess.Println("Run 'tatara build -h' for build options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "-a <arch> -s <flavor> -v <version> [options]", "Build a cross toolchain"},
		{"log", "", "TUI run log viewer"},
		{"cleanup", "[options]", "Cleanup caches, build dirs and logs"},
		{"version, --version", "", "Version information"},
		{"help, -h", "", "This help"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// DetectHost probes the running machine once; the result is injected into
// Resolve so the resolver itself stays free of I/O.
func DetectHost() HostInfo {
	info := HostInfo{Arch: HostArch()}
	if t, ok := archTriples[info.Arch]; ok {
		info.Triple = t
	}
	if out, err := exec.Command("gcc", "-dumpversion").Output(); err == nil {
		info.GCCVersion = strings.TrimSpace(string(out))
	}
	return info
}

// Main is the CLI entrypoint for cmd/tatara.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
				cancel()

				// Give the children a moment to die, then drop the mounts
				// before re-entering the normal abort path.
				time.Sleep(100 * time.Millisecond)
				if ws := activeWorkspace.Load(); ws != nil {
					ws.Release()
				}

				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
					os.Exit(1)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if root := os.Getenv("TATARA_CONFIG"); root != "" {
		configPath = root
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: true}

	switch os.Args[1] {
	case "build", "b":
		if err := handleBuildCommand(ctx, os.Args[2:], cfg); err != nil {
			colArrow.Print("-> ")
			colError.Printf("%v\n", err)
			var verr *ValidationError
			if errors.As(err, &verr) {
				printHelp()
			}
			os.Exit(1)
		}
	case "log":
		if err := runLogViewer(); err != nil {
			colError.Printf("%v\n", err)
			os.Exit(1)
		}
	case "cleanup":
		if err := handleCleanupCommand(os.Args[2:]); err != nil {
			colError.Printf("%v\n", err)
			os.Exit(1)
		}
	case "version", "--version":
		fmt.Printf("tatara %s (%s, %s/%s)\n", version, buildDate, runtime.GOOS, runtime.GOARCH)
	case "help", "-h", "--help":
		printHelp()
	default:
		colError.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func handleBuildCommand(ctx context.Context, args []string, cfg *Config) error {
	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	archFlag := buildCmd.String("a", "", "Target architecture: arm, arm64, i686, x86_64 or host.")
	flavorFlag := buildCmd.String("s", "gnu", "Source flavor: gnu or linaro.")
	versionFlag := buildCmd.Int("v", 0, "GCC major version to build.")
	bareMetal := buildCmd.Bool("bare-metal", false, "Build a bare-metal (ELF) toolchain; implies -newlib.")
	useNewlib := buildCmd.Bool("newlib", false, "Pair the compiler with newlib instead of glibc.")
	tarballs := buildCmd.Bool("tarballs", false, "Fetch release tarballs instead of checkouts.")
	fullHistory := buildCmd.Bool("full-history", false, "Clone full VCS history instead of shallow checkouts.")
	skipUpdate := buildCmd.Bool("skip-update", false, "Do not update or patch existing source trees.")
	jobs := buildCmd.Int("j", 0, "Parallel make jobs (default: all CPUs).")
	codecName := buildCmd.String("codec", "", "Package the toolchain: xz, zstd or gzip. Empty skips packaging.")
	release := buildCmd.Bool("release", false, "Publish the archive and run log to the configured bucket.")
	ramBuild := buildCmd.Bool("ram", false, "Back build directories with tmpfs.")
	verbose := buildCmd.Bool("verbose", false, "Mirror subprocess output to stdout.")
	debug := buildCmd.Bool("debug", false, "Print debug messages.")

	if err := buildCmd.Parse(args); err != nil {
		return err
	}
	Verbose = *verbose
	if *debug {
		Debug = true
	}

	if *archFlag == "" || *versionFlag == 0 {
		buildCmd.PrintDefaults()
		return validationErrorf("pass -a and -v", "architecture and version are required")
	}

	plan, err := Resolve(ResolveOptions{
		Arch:        *archFlag,
		Flavor:      *flavorFlag,
		Version:     *versionFlag,
		BareMetal:   *bareMetal,
		UseNewlib:   *useNewlib,
		Tarballs:    *tarballs,
		FullHistory: *fullHistory,
		SkipUpdate:  *skipUpdate,
		RAMBuild:    *ramBuild,
		Release:     *release,
		Jobs:        *jobs,
		Codec:       *codecName,
		Host:        DetectHost(),
	})
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Building %s %s GCC %d (%d jobs)\n", plan.Triple, plan.Flavor, plan.Version, plan.Jobs)

	loc := clockZone(cfg)
	start := time.Now()

	log, err := newRunLog(plan, loc)
	if err != nil {
		return err
	}
	defer log.Close()

	buildErr := runPipeline(ctx, plan, log)

	var archivePath string
	if buildErr == nil {
		buildExec := &Executor{Context: ctx, Stdout: log.Writer(), Stderr: log.Writer()}
		archivePath, buildErr = packageToolchain(plan, plan.Prefix(WorkDir), buildExec)
	}

	ok := reportResult(plan, plan.Prefix(WorkDir), archivePath, start, loc)

	// The run log goes to the side-channel on success and on failure alike.
	log.Printf("run finished: ok=%v err=%v\n", ok, buildErr)
	log.Close()
	if plan.Release {
		if compressed, err := log.Compress(); err == nil {
			publishArtifacts(ctx, cfg, archivePath, compressed)
		} else {
			cPrintf(colWarn, "Failed to compress run log: %v\n", err)
		}
	}

	if buildErr != nil {
		return buildErr
	}
	if !ok {
		return fmt.Errorf("toolchain verification failed")
	}
	return nil
}

// runPipeline sequences acquisition, workspace preparation and the stage
// runner. The workspace is registered for the signal handler and released on
// every way out.
func runPipeline(ctx context.Context, plan *BuildPlan, log *runLog) error {
	buildExec := &Executor{Context: ctx, Stdout: log.Writer(), Stderr: log.Writer()}
	rootExec := &Executor{Context: ctx, ShouldRunAsRoot: true, Stdout: log.Writer(), Stderr: log.Writer()}

	acq := NewAcquirer(buildExec, plan)
	toolBin, err := acq.ProvisionTools(ctx)
	if err != nil {
		return err
	}
	if err := acq.EnsureAll(ctx, plan); err != nil {
		return err
	}

	ws, err := prepareWorkspace(plan, rootExec)
	if err != nil {
		return err
	}
	activeWorkspace.Store(ws)
	defer func() {
		ws.Release()
		activeWorkspace.Store(nil)
	}()

	runner := newStageRunner(plan, ws, buildExec, toolBin)
	return runner.Run(ctx)
}
