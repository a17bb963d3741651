package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/provider"
)

// writeFile writes a config fixture into a temp directory.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// clearEnv unsets every TUNNELCTL_* variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "TIMEOUT", "POLL_INTERVAL", "PROVIDERS", "CONFIG", "LOG_LEVEL"} {
		key := EnvPrefix + "_" + k
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func exitCode(t *testing.T, err error) model.ExitCode {
	t.Helper()
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr), "expected a CLIError, got %v", err)
	return cliErr.Code
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"ngrok", "cloudflared"}, cfg.Providers)
	assert.Empty(t, cfg.Source)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "tunnelctl.yaml", `
port: 8080
timeout: 45s
poll_interval: 500ms
log_level: info
providers: [ngrok-docker, lt-custom, cloudflared]
definitions:
  - name: lt-custom
    preset: localtunnel
    args: ["--port", "{{ port }}", "--subdomain", "myapp"]
    timeout: 10s
  - name: cloudflared
    capture_file: /tmp/cloudflared.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "info", cfg.LogLevel)

	providers, err := cfg.Resolve()
	require.NoError(t, err)
	require.Len(t, providers, 3)

	assert.Equal(t, "ngrok-docker", providers[0].Name)
	assert.Equal(t, model.RuntimeDocker, providers[0].Runtime)
	assert.Equal(t, model.StrategyAPI, providers[0].Strategy)

	assert.Equal(t, "lt-custom", providers[1].Name)
	assert.Equal(t, "lt", providers[1].Command, "preset fields are kept")
	assert.Equal(t, provider.LocaltunnelURLPattern, providers[1].URLPattern)
	assert.Equal(t, []string{"--port", "{{ port }}", "--subdomain", "myapp"}, providers[1].Args)
	assert.Equal(t, 10*time.Second, providers[1].Timeout)

	assert.Equal(t, "cloudflared", providers[2].Name)
	assert.Equal(t, "/tmp/cloudflared.log", providers[2].CaptureFile,
		"a definition named after a preset overrides it")
	assert.Equal(t, provider.CloudflaredURLPattern, providers[2].URLPattern)
}

func TestLoad_JSONC(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "tunnelctl.jsonc", `{
  // expose the dev server
  "port": 3000,
  "timeout": "20s",
  "providers": ["my-agent"],
  "definitions": [
    {
      "name": "my-agent",
      "command": "my-agent",
      "args": ["expose", "{{ port }}"],
      "strategy": "logscan",
      "urlPattern": "public: (https://\\S+)",
    },
  ],
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.Timeout)

	providers, err := cfg.Resolve()
	require.NoError(t, err)
	require.Len(t, providers, 1)
	p := providers[0]
	assert.Equal(t, model.RuntimeExec, p.Runtime, "custom definitions default to exec")
	assert.Equal(t, model.StrategyLogScan, p.Strategy)
	assert.Equal(t, `public: (https://\S+)`, p.URLPattern)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "tunnelctl.yml", "port: 8080\ntimeout: 45s\n")
	t.Setenv("TUNNELCTL_CONFIG", path)
	t.Setenv("TUNNELCTL_PORT", "9090")
	t.Setenv("TUNNELCTL_PROVIDERS", "cloudflared, localtunnel")
	t.Setenv("TUNNELCTL_POLL_INTERVAL", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Source, "TUNNELCTL_CONFIG selects the file")
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"cloudflared", "localtunnel"}, cfg.Providers)

	cfg.Apply(Overrides{Port: 7000, Timeout: 5 * time.Second})
	assert.Equal(t, 7000, cfg.Port, "flags win over the environment")
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"cloudflared", "localtunnel"}, cfg.Providers, "unset flags change nothing")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
	}{
		{name: "missing file", file: ""},
		{name: "bad yaml", file: "c.yaml", content: "port: [1, 2"},
		{name: "unknown yaml key", file: "c.yaml", content: "prot: 5001\n"},
		{name: "bad json", file: "c.json", content: `{"port": }`},
		{name: "bad duration", file: "c.yaml", content: "timeout: soon\n"},
		{name: "bad env", env: map[string]string{"TUNNELCTL_PORT": "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			switch {
			case tt.file != "":
				path = writeFile(t, tt.file, tt.content)
			case tt.env == nil:
				path = filepath.Join(t.TempDir(), "absent.yaml")
			}

			_, err := Load(path)
			require.Error(t, err)
			assert.Equal(t, model.ExitConfigInvalid, exitCode(t, err))
		})
	}
}

func TestLoad_EmptyYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   model.ExitCode
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, model.ExitConfigInvalid},
		{"port too high", func(c *Config) { c.Port = 70000 }, model.ExitConfigInvalid},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, model.ExitConfigInvalid},
		{"negative poll", func(c *Config) { c.PollInterval = -time.Second }, model.ExitConfigInvalid},
		{"empty provider list", func(c *Config) { c.Providers = nil }, model.ExitConfigInvalid},
		{"unknown provider", func(c *Config) { c.Providers = []string{"teleport"} }, model.ExitProviderNotFound},
		{"duplicate provider", func(c *Config) { c.Providers = []string{"ngrok", "ngrok"} }, model.ExitConfigInvalid},
		{"duplicate definition", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Command: "x", Strategy: "api"}, {Name: "x", Command: "x", Strategy: "api"}}
		}, model.ExitConfigInvalid},
		{"bad definition name", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "-x"}}
		}, model.ExitConfigInvalid},
		{"bad runtime", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Runtime: "podman", Command: "x", Strategy: "api"}}
			c.Providers = []string{"x"}
		}, model.ExitConfigInvalid},
		{"bad strategy", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Command: "x", Strategy: "dns"}}
			c.Providers = []string{"x"}
		}, model.ExitConfigInvalid},
		{"bad pattern", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Command: "x", Strategy: "log-scan", URLPattern: "("}}
			c.Providers = []string{"x"}
		}, model.ExitConfigInvalid},
		{"missing command", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Strategy: "api"}}
			c.Providers = []string{"x"}
		}, model.ExitConfigInvalid},
		{"unknown preset", func(c *Config) {
			c.Definitions = []ProviderDef{{Name: "x", Preset: "teleport"}}
			c.Providers = []string{"x"}
		}, model.ExitConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCode(t, err))
		})
	}
}

func TestResolveNames_DockerVariant(t *testing.T) {
	cfg := Default()
	providers, err := cfg.ResolveNames([]string{"cloudflared-docker"})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "cloudflared-docker", providers[0].Name)
	assert.Equal(t, model.RuntimeDocker, providers[0].Runtime)
	assert.Equal(t, "cloudflare/cloudflared:latest", providers[0].Image)

	_, err = cfg.ResolveNames([]string{"teleport-docker"})
	require.Error(t, err)
	assert.Equal(t, model.ExitProviderNotFound, exitCode(t, err))
	assert.Contains(t, err.Error(), "ngrok-docker", "the error lists known names")
}

func TestKnownNames(t *testing.T) {
	cfg := Default()
	cfg.Definitions = []ProviderDef{{Name: "mine"}, {Name: "ngrok"}}
	assert.Equal(t, []string{
		"mine", "ngrok",
		"cloudflared", "cloudflared-docker",
		"localtunnel", "localtunnel-docker",
		"ngrok-docker",
	}, cfg.KnownNames())
}

func TestNormalizeNames(t *testing.T) {
	assert.Equal(t, []string{"ngrok", "cloudflared"}, normalizeNames([]string{" ngrok", "", "cloudflared ", " "}))
}
