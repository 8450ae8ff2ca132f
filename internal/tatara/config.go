package tatara

import (
	"bufio"
	"os"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/tatara.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge TATARA_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge TATARA_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TATARA_") || strings.HasPrefix(env, "R2_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	WorkDir = cfg.Values["TATARA_WORK_DIR"]
	if WorkDir == "" {
		WorkDir = "/opt/cross"
	}

	CacheDir = cfg.Values["TATARA_CACHE_DIR"]
	if CacheDir == "" {
		CacheDir = "/var/cache/tatara"
	}

	// Backing directory for bind-mounted build dirs when tmpfs is not
	// requested. Opt-in: without it build dirs are plain directories
	// under the work root, so the fallback never points into anyone's
	// home directory.
	BuildBackingDir = cfg.Values["TATARA_BUILD_DIR"]

	Debug = cfg.Values["TATARA_DEBUG"] == "1"

	// Load the GNU mirror URL if it's set in the config
	if mirror, exists := cfg.Values["GNU_MIRROR"]; exists && mirror != "" {
		gnuMirrorURL = strings.TrimRight(mirror, "/")
		debugf("=> Using GNU mirror from config: %s\n", gnuMirrorURL)
	}
	if gnuMirrorURL == "" {
		// mirrors.kernel.org is reliable and globally distributed.
		gnuMirrorURL = "https://mirrors.kernel.org/gnu"
		debugf("=> No GNU mirror configured, using default: %s\n", gnuMirrorURL)
	}

	SourcesDir = CacheDir + "/sources"
	CacheStore = SourcesDir + "/_cache"
	ToolPrefix = CacheDir + "/tools"
	LogDir = CacheDir + "/log"
}

// clockZone returns the location used for date-stamping reports and log
// names. TATARA_TIMEZONE wins over the ambient TZ, which the Go runtime
// already honors via time.Local.
func clockZone(cfg *Config) *time.Location {
	if tz := cfg.Values["TATARA_TIMEZONE"]; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		cPrintf(colWarn, "Invalid TATARA_TIMEZONE, using local time\n")
	}
	return time.Local
}
