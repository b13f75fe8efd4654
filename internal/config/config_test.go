package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/distsqueeze/internal/codec"
)

func validConfig() Config {
	cfg := Default()
	cfg.Catalog = "catalog.yaml"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/tmp/patch-compressibility", cfg.WorkDir)
	assert.Equal(t, []string{"bz2", "xz"}, cfg.Codecs)
	assert.Contains(t, cfg.Denylist, "ambertools-1.5-bugfix_1-10.patch.xz")
	assert.Positive(t, cfg.Workers)
	assert.NoError(t, validConfig().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distsqueeze.yaml")
	content := `
workdir: /var/tmp/squeeze
codecs: [xz, zst, bz2]
backend: native
fetch_timeout: 30s
compare: first
catalog: /srv/catalog.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/squeeze", cfg.WorkDir)
	assert.Equal(t, []string{"xz", "zst", "bz2"}, cfg.Codecs)
	assert.Equal(t, "native", cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "first", cfg.Compare)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Pattern, cfg.Pattern)
	assert.Equal(t, Default().Denylist, cfg.Denylist)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codecs: {not: a list}"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown codec", func(c *Config) { c.Codecs = []string{"bz2", "rar"} }},
		{"no codecs", func(c *Config) { c.Codecs = nil }},
		{"duplicate codec", func(c *Config) { c.Codecs = []string{"xz", "xz"} }},
		{"bad backend", func(c *Config) { c.Backend = "gpu" }},
		{"bad pattern", func(c *Config) { c.Pattern = "(" }},
		{"bad match", func(c *Config) { c.Match = "content" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.FetchTimeout = -time.Second }},
		{"bad compare", func(c *Config) { c.Compare = "pairwise" }},
		{"no catalog", func(c *Config) { c.Catalog = "" }},
		{"no workdir", func(c *Config) { c.WorkDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_UnknownCodecType(t *testing.T) {
	cfg := validConfig()
	cfg.Codecs = []string{"7z"}

	var unknown *codec.UnknownCodecError
	require.True(t, errors.As(cfg.Validate(), &unknown))
	assert.Equal(t, "7z", unknown.Ext)
}
