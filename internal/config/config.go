// Package config loads tunnelctl settings.
//
// Sources are layered, lowest precedence first:
//
//  1. built-in defaults
//  2. a YAML or JSON/JSONC config file (--config or TUNNELCTL_CONFIG)
//  3. TUNNELCTL_* environment variables
//  4. command-line flags (Overrides)
//
// The provider list names which providers to try and in which order.
// Names resolve against the definitions in the file first, then against
// the built-in presets.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/provider"
)

const (
	// DefaultPort is the web app port exposed when nothing else is set.
	DefaultPort = 5001

	// DefaultTimeout is the per-provider readiness window.
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is the pause between readiness probes.
	DefaultPollInterval = 1 * time.Second

	// EnvPrefix prefixes every environment variable tunnelctl reads.
	EnvPrefix = "TUNNELCTL"

	// dockerSuffix selects the docker variant of a preset, e.g.
	// "ngrok-docker".
	dockerSuffix = "-docker"
)

// DefaultProviders is the fallback order used when none is configured.
var DefaultProviders = []string{provider.PresetNgrok, provider.PresetCloudflared}

// Config is the fully merged configuration.
type Config struct {
	// Port is the local port to expose.
	Port int `json:"port"`

	// Timeout is the per-provider readiness window.
	Timeout time.Duration `json:"timeout"`

	// PollInterval is the pause between readiness probes.
	PollInterval time.Duration `json:"pollInterval"`

	// Providers lists provider names in fallback order.
	Providers []string `json:"providers"`

	// Definitions holds custom providers and preset overrides from the
	// config file.
	Definitions []ProviderDef `json:"definitions,omitempty"`

	// LogLevel is the zap level name for non-verbose runs.
	LogLevel string `json:"logLevel,omitempty"`

	// Source is the config file that was loaded, if any.
	Source string `json:"source,omitempty"`
}

// ProviderDef is a provider definition as written in a config file.
// Setting Preset (or naming the definition after a preset) starts from
// the preset and overlays the fields that are set.
type ProviderDef struct {
	Name        string            `json:"name" yaml:"name"`
	Preset      string            `json:"preset,omitempty" yaml:"preset,omitempty"`
	Runtime     string            `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Image       string            `json:"image,omitempty" yaml:"image,omitempty"`
	Strategy    string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	APIURL      string            `json:"apiUrl,omitempty" yaml:"api_url,omitempty"`
	URLPattern  string            `json:"urlPattern,omitempty" yaml:"url_pattern,omitempty"`
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	CaptureFile string            `json:"captureFile,omitempty" yaml:"capture_file,omitempty"`
}

// fileConfig mirrors the config file layout. Durations are strings such
// as "45s".
type fileConfig struct {
	Port         int           `json:"port" yaml:"port"`
	Timeout      string        `json:"timeout" yaml:"timeout"`
	PollInterval string        `json:"pollInterval" yaml:"poll_interval"`
	LogLevel     string        `json:"logLevel" yaml:"log_level"`
	Providers    []string      `json:"providers" yaml:"providers"`
	Definitions  []ProviderDef `json:"definitions" yaml:"definitions"`
}

// envConfig holds the TUNNELCTL_* variables. Zero values mean unset.
// Keys come from split_words (PollInterval -> TUNNELCTL_POLL_INTERVAL);
// an envconfig tag would also match the unprefixed name.
type envConfig struct {
	Port         int           `split_words:"true"`
	Timeout      time.Duration `split_words:"true"`
	PollInterval time.Duration `split_words:"true"`
	Providers    []string      `split_words:"true"`
	Config       string        `split_words:"true"`
	LogLevel     string        `split_words:"true"`
}

// Overrides carries command-line flag values. Zero values mean the flag
// was not given.
type Overrides struct {
	Port         int
	Timeout      time.Duration
	PollInterval time.Duration
	Providers    []string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		Providers:    append([]string(nil), DefaultProviders...),
	}
}

// Load builds the configuration from defaults, the config file and the
// environment. path may be empty, in which case TUNNELCTL_CONFIG is
// consulted. Flags are applied afterwards with Apply.
//
// Returns a model.CLIError with ExitConfigInvalid on any failure.
func Load(path string) (*Config, error) {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "invalid TUNNELCTL_* environment variable", err)
	}

	cfg := Default()
	if path == "" {
		path = env.Config
	}
	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitConfigInvalid, fmt.Sprintf("failed to load config file %s", path), err)
		}
		if err := cfg.mergeFile(fc); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigInvalid, fmt.Sprintf("invalid config file %s", path), err)
		}
		cfg.Source = path
	}

	cfg.mergeEnv(env)
	return cfg, nil
}

// readFile parses a config file. ".yaml" and ".yml" are YAML; anything
// else is JSON with comments and trailing commas allowed.
func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return &fc, nil
}

func (c *Config) mergeFile(fc *fileConfig) error {
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.Timeout != "" {
		d, err := parseDuration("timeout", fc.Timeout)
		if err != nil {
			return err
		}
		c.Timeout = d
	}
	if fc.PollInterval != "" {
		d, err := parseDuration("poll_interval", fc.PollInterval)
		if err != nil {
			return err
		}
		c.PollInterval = d
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if len(fc.Providers) > 0 {
		c.Providers = normalizeNames(fc.Providers)
	}
	c.Definitions = fc.Definitions
	return nil
}

func (c *Config) mergeEnv(env envConfig) {
	if env.Port != 0 {
		c.Port = env.Port
	}
	if env.Timeout != 0 {
		c.Timeout = env.Timeout
	}
	if env.PollInterval != 0 {
		c.PollInterval = env.PollInterval
	}
	if len(env.Providers) > 0 {
		c.Providers = normalizeNames(env.Providers)
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
}

// Apply overlays command-line flag values.
func (c *Config) Apply(o Overrides) {
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.PollInterval != 0 {
		c.PollInterval = o.PollInterval
	}
	if len(o.Providers) > 0 {
		c.Providers = normalizeNames(o.Providers)
	}
}

// normalizeNames trims names and drops empty entries, so that
// "ngrok, cloudflared," works in flags and environment variables.
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
