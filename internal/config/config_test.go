package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crete-run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10055, cfg.MasterPort)
	assert.Equal(t, 2*time.Second, cfg.Stagger)
	assert.Equal(t, time.Second, cfg.Poll)
	assert.Equal(t, 5*time.Second, cfg.Grace)
	assert.Equal(t, 4, cfg.ExpectedTestCases)
	assert.Equal(t, time.Duration(0), cfg.Deadline())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, `
bin_dir: /opt/crete/bin
master_port: 12000
timeout: 90
grace: 500ms
tools:
  zip: /usr/bin/zip
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/crete/bin", cfg.BinDir)
	assert.Equal(t, 12000, cfg.MasterPort)
	assert.Equal(t, 90*time.Second, cfg.Deadline())
	assert.Equal(t, 500*time.Millisecond, cfg.Grace)
	assert.Equal(t, "/usr/bin/zip", cfg.Tools.Zip)
	// untouched keys keep defaults
	assert.Equal(t, "localhost", cfg.MasterIP)
	assert.Equal(t, "crete-dispatch", cfg.Tools.Dispatch)
	assert.Equal(t, 2*time.Second, cfg.Stagger)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "master_prot: 1\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty ip", func(c *Config) { c.MasterIP = "" }},
		{"port zero", func(c *Config) { c.MasterPort = 0 }},
		{"port too big", func(c *Config) { c.MasterPort = 70000 }},
		{"no vm instances", func(c *Config) { c.VMInstances = 0 }},
		{"no svm instances", func(c *Config) { c.SVMInstances = 0 }},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }},
		{"zero poll", func(c *Config) { c.Poll = 0 }},
		{"negative grace", func(c *Config) { c.Grace = -time.Second }},
		{"zero grace", func(c *Config) { c.Grace = 0 }},
		{"zero stagger", func(c *Config) { c.Stagger = 0 }},
		{"zero kill_after", func(c *Config) { c.KillAfter = 0 }},
		{"negative expected", func(c *Config) { c.ExpectedTestCases = -1 }},
		{"empty tool", func(c *Config) { c.Tools.Genhtml = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsNegativeKillAfter(t *testing.T) {
	cfg := Default()
	cfg.KillAfter = -1
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsZeroStagger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crete-run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stagger: 0s\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "stagger must be > 0")
}

func TestConfigIsAValue(t *testing.T) {
	a := Default()
	b := a
	b.Tools.Zip = "other"
	b.Timeout = 30
	assert.Equal(t, "zip", a.Tools.Zip)
	assert.Equal(t, 0, a.Timeout)
}
