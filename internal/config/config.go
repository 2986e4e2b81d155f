// Package config loads resolver settings from an optional KEY=VALUE file
// and the environment. Environment values win over the file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/origin/gateway"
)

// Recognized keys. The same names are read from the file and the environment.
const (
	KeyMirrors        = "TURKANIME_MIRRORS"
	KeyProfiles       = "TURKANIME_PROFILES"
	KeySolverURL      = solver.EnvURL
	KeySolverMode     = "TURKANIME_SOLVER"
	KeyProxy          = "TURKANIME_PROXY"
	KeyCacheDir       = "TURKANIME_CACHE_DIR"
	KeyRateLimit      = "TURKANIME_RATE_LIMIT"
	KeyProbeTimeout   = "TURKANIME_PROBE_TIMEOUT"
	KeyRequestTimeout = "TURKANIME_REQUEST_TIMEOUT"
	KeySourcesMethod  = "TURKANIME_SOURCES_METHOD"
	KeyLogConfig      = "TURKANIME_LOG_CONFIG"
)

var keys = []string{
	KeyMirrors, KeyProfiles, KeySolverURL, KeySolverMode, KeyProxy, KeyCacheDir,
	KeyRateLimit, KeyProbeTimeout, KeyRequestTimeout, KeySourcesMethod, KeyLogConfig,
}

var comment = regexp.MustCompile(`\s*#.*$|^\s+|\s+$`).ReplaceAllString

// Config holds resolver settings. Zero values mean "use the built-in default".
type Config struct {
	Mirrors        []string
	Profiles       []string
	SolverURL      string
	SolverMode     solver.Mode
	Proxy          string
	CacheDir       string
	RateLimit      int
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	SourcesMethod  string
	LogConfig      string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Mirrors:    append([]string(nil), gateway.DefaultMirrors...),
		Profiles:   append([]string(nil), gateway.DefaultProfiles...),
		SolverURL:  solver.DefaultURL,
		SolverMode: solver.Auto,
	}
}

// Load reads path on top of the defaults and then applies the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	log := logger.WithComponent(logger.ComponentApp)
	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		txt := scanner.Text()
		if !strings.Contains(txt, "=") {
			continue
		}
		line := strings.TrimSpace(comment(txt, ""))
		kv := strings.SplitN(line, "=", 2)
		if len(kv) < 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(kv[1], `"`, ""), `'`, ""))
		if value == "" {
			log.Warn("empty config value", logger.Fields{"key": key, "line": n})
			continue
		}
		if err := c.Set(key, value); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	return scanner.Err()
}

// ApplyEnv overrides fields from lookup, usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range keys {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := c.Set(key, strings.TrimSpace(v)); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one key. Unknown keys are ignored.
func (c *Config) Set(key, value string) error {
	switch key {
	case KeyMirrors:
		c.Mirrors = splitList(value)
	case KeyProfiles:
		c.Profiles = splitList(value)
	case KeySolverURL:
		c.SolverURL = value
	case KeySolverMode:
		m, err := solver.ParseMode(value)
		if err != nil {
			return err
		}
		c.SolverMode = m
	case KeyProxy:
		c.Proxy = value
	case KeyCacheDir:
		c.CacheDir = value
	case KeyRateLimit:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid rate %q", key, value)
		}
		c.RateLimit = n
	case KeyProbeTimeout, KeyRequestTimeout:
		d, err := logger.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == KeyProbeTimeout {
			c.ProbeTimeout = d
		} else {
			c.RequestTimeout = d
		}
	case KeySourcesMethod:
		c.SourcesMethod = strings.ToUpper(value)
	case KeyLogConfig:
		c.LogConfig = value
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimRight(strings.TrimSpace(t), "/"); t != "" {
			out = append(out, t)
		}
	}
	return out
}
