package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvFileOverridesDefaults(t *testing.T) {
	cfg := defaults()
	parseEnvFile("FLASHKIT_DEBUG_CLI=/opt/bin/adb\n# comment\nFLASHKIT_LISTEN_ADDR=:9090\n", &cfg)

	assert.Equal(t, "/opt/bin/adb", cfg.DebugCLIPath)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "fastboot", cfg.FastbootCLIPath)
}

func TestParseEnvFileIgnoresMalformedLines(t *testing.T) {
	cfg := defaults()
	parseEnvFile("not a valid line\nFLASHKIT_BUNDLE_ROOT=/srv/bundles\n", &cfg)
	assert.Equal(t, "/srv/bundles", cfg.BundleRoot)
}
