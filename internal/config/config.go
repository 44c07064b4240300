// Package config resolves flashkit's runtime configuration from, in
// increasing precedence: built-in defaults, a ".env"-style file (read from
// the working directory if one is there, otherwise from the nearest
// ancestor directory containing go.mod), process environment variables,
// and finally command-line flags (applied by the caller, since flag
// parsing needs to see os.Args).
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the configuration shared by cmd/flashkit and cmd/flashkitd.
type Config struct {
	DebugCLIPath       string
	FastbootCLIPath    string
	BundleRoot         string
	DistributionURL    string
	ListenAddr         string // flashkitd only
}

var (
	loaded       *Config
	loadedOnce   bool
)

// Load resolves Config from defaults, the project-local .env file, and the
// environment, in that order of increasing precedence, memoizing the result
// so repeated calls within one process see a single consistent value.
func Load() Config {
	if loaded != nil && loadedOnce {
		return *loaded
	}

	cfg := defaults()

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	if v := os.Getenv("FLASHKIT_DEBUG_CLI"); v != "" {
		cfg.DebugCLIPath = v
	}
	if v := os.Getenv("FLASHKIT_FASTBOOT_CLI"); v != "" {
		cfg.FastbootCLIPath = v
	}
	if v := os.Getenv("FLASHKIT_BUNDLE_ROOT"); v != "" {
		cfg.BundleRoot = v
	}
	if v := os.Getenv("FLASHKIT_DISTRIBUTION_URL"); v != "" {
		cfg.DistributionURL = v
	}
	if v := os.Getenv("FLASHKIT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	loaded = &cfg
	loadedOnce = true
	return cfg
}

func defaults() Config {
	return Config{
		DebugCLIPath:    "adb",
		FastbootCLIPath: "fastboot",
		BundleRoot:      defaultBundleRoot(),
		DistributionURL: "https://flashkit.example.invalid/bundles",
		ListenAddr:      ":8088",
	}
}

func defaultBundleRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "flashkit", "bundles")
	}
	return filepath.Join(home, ".cache", "flashkit", "bundles")
}

func parseEnvFile(content string, cfg *Config) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "FLASHKIT_DEBUG_CLI":
			cfg.DebugCLIPath = value
		case "FLASHKIT_FASTBOOT_CLI":
			cfg.FastbootCLIPath = value
		case "FLASHKIT_BUNDLE_ROOT":
			cfg.BundleRoot = value
		case "FLASHKIT_DISTRIBUTION_URL":
			cfg.DistributionURL = value
		case "FLASHKIT_LISTEN_ADDR":
			cfg.ListenAddr = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
