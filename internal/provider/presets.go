// Package provider holds the built-in tunnel provider presets and renders
// provider definitions into launch requests for a specific local port.
package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// Preset names.
const (
	PresetNgrok       = "ngrok"
	PresetCloudflared = "cloudflared"
	PresetLocaltunnel = "localtunnel"
)

// CloudflaredURLPattern matches quick-tunnel hostnames only, so the
// terms-of-service link cloudflared prints first is not mistaken for the
// tunnel URL.
const CloudflaredURLPattern = `https://[a-z0-9-]+\.trycloudflare\.com`

// LocaltunnelURLPattern captures the URL from localtunnel's
// "your url is: ..." line.
const LocaltunnelURLPattern = `your url is: (https?://\S+)`

// presets are the built-in definitions keyed by preset name. Docker
// variants share the strategy and arguments but run an image.
var presets = map[string]model.Provider{
	PresetNgrok: {
		Name:     PresetNgrok,
		Runtime:  model.RuntimeExec,
		Command:  "ngrok",
		Args:     []string{"http", "{{ port }}", "--log", "stdout"},
		Image:    "ngrok/ngrok:latest",
		Strategy: model.StrategyAPI,
		APIURL:   model.DefaultAPIURL,
	},
	PresetCloudflared: {
		Name:       PresetCloudflared,
		Runtime:    model.RuntimeExec,
		Command:    "cloudflared",
		Args:       []string{"tunnel", "--no-autoupdate", "--url", "http://localhost:{{ port }}"},
		Image:      "cloudflare/cloudflared:latest",
		Strategy:   model.StrategyLogScan,
		URLPattern: CloudflaredURLPattern,
	},
	PresetLocaltunnel: {
		Name:       PresetLocaltunnel,
		Runtime:    model.RuntimeExec,
		Command:    "lt",
		Args:       []string{"--port", "{{ port }}"},
		Image:      "efrecon/localtunnel:latest",
		Strategy:   model.StrategyLogScan,
		URLPattern: LocaltunnelURLPattern,
	},
}

// Preset returns a copy of the named built-in provider.
func Preset(name string) (model.Provider, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return model.Provider{}, fmt.Errorf("unknown provider preset %q (valid: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return clone(p), nil
}

// PresetNames returns the built-in preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge overlays the non-zero fields of override onto base. Args and Env
// replace the preset's values wholesale when set.
func Merge(base, override model.Provider) model.Provider {
	out := clone(base)
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Runtime != "" {
		out.Runtime = override.Runtime
	}
	if override.Command != "" {
		out.Command = override.Command
	}
	if override.Args != nil {
		out.Args = append([]string(nil), override.Args...)
	}
	if override.Env != nil {
		out.Env = copyEnv(override.Env)
	}
	if override.Image != "" {
		out.Image = override.Image
	}
	if override.Strategy != "" {
		out.Strategy = override.Strategy
	}
	if override.APIURL != "" {
		out.APIURL = override.APIURL
	}
	if override.URLPattern != "" {
		out.URLPattern = override.URLPattern
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.CaptureFile != "" {
		out.CaptureFile = override.CaptureFile
	}
	return out
}

func clone(p model.Provider) model.Provider {
	p.Args = append([]string(nil), p.Args...)
	p.Env = copyEnv(p.Env)
	return p
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
