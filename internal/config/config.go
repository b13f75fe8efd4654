package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/distsqueeze/internal/codec"
	"github.com/frederic-klein/distsqueeze/internal/mirror"
	"github.com/frederic-klein/distsqueeze/internal/report"
)

// Config holds every scan option. Zero values in a loaded file keep the
// defaults.
type Config struct {
	WorkDir      string        `yaml:"workdir"`
	Codecs       []string      `yaml:"codecs"`
	Backend      string        `yaml:"backend"`
	Pattern      string        `yaml:"pattern"`
	Match        string        `yaml:"match"`
	Denylist     []string      `yaml:"denylist"`
	FallbackBase string        `yaml:"fallback_base"`
	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Deadline     time.Duration `yaml:"deadline"`
	Compare      string        `yaml:"compare"`
	Catalog      string        `yaml:"catalog"`
	Mirrors      string        `yaml:"mirrors"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	LogFile      string        `yaml:"log_file"`
}

// Match targets for the selection pattern.
const (
	MatchURI  = "uri"
	MatchName = "name"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WorkDir: "/tmp/patch-compressibility",
		Codecs:  []string{"bz2", "xz"},
		Backend: string(codec.BackendExec),
		Pattern: `.*(patch|patches).*[.](xz|bz2)`,
		Match:   MatchURI,
		// unavailable or fetch restricted
		Denylist: []string{
			"ut2004-lnxpatch3369-2.tar.bz2",
			"ambertools-1.5-bugfix_1-10.patch.xz",
		},
		FallbackBase: mirror.DefaultFallbackBase,
		Workers:      runtime.NumCPU(),
		FetchTimeout: 5 * time.Minute,
		Compare:      string(report.ModeBest),
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would fail for every file.
func (c Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("workdir must be set")
	}
	if len(c.Codecs) == 0 {
		return fmt.Errorf("at least one codec is required")
	}
	seen := make(map[string]bool, len(c.Codecs))
	for _, ext := range c.Codecs {
		if !codec.Known(ext) {
			return &codec.UnknownCodecError{Ext: ext}
		}
		if seen[ext] {
			return fmt.Errorf("codec %s listed twice", ext)
		}
		seen[ext] = true
	}
	switch codec.Backend(c.Backend) {
	case codec.BackendExec, codec.BackendNative:
	default:
		return fmt.Errorf("unknown codec backend %q", c.Backend)
	}
	if _, err := regexp.Compile(c.Pattern); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if c.Match != MatchURI && c.Match != MatchName {
		return fmt.Errorf("match must be %q or %q, got %q", MatchURI, MatchName, c.Match)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.FetchTimeout < 0 || c.Deadline < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if _, err := report.ParseMode(c.Compare); err != nil {
		return err
	}
	if c.Catalog == "" {
		return fmt.Errorf("catalog path must be set")
	}
	return nil
}
