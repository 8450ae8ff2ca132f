package tatara

import (
	"sync"

	"github.com/gookit/color"
)

// Global variables
var (
	WorkDir         string // toolchain install root; the prefix is WorkDir/<triple>
	CacheDir        string
	SourcesDir      string
	CacheStore      string
	ToolPrefix      string // prefix for locally provisioned build tools (makeinfo, pigz)
	LogDir          string
	BuildBackingDir string // backing dir for bind-mounted build dirs when not using tmpfs
	Debug           bool
	Verbose         bool
	ConfigFile      = "/etc/tatara.conf"

	gnuMirrorURL         string
	gnuOriginalURL       = "https://ftp.gnu.org/gnu"
	gnuMirrorMessageOnce sync.Once

	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// Global root executor (declared, to be assigned in Main)
	RootExec *Executor
)

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
