package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

func TestPreset(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			p, err := Preset(name)
			require.NoError(t, err)
			assert.NoError(t, p.Validate(), "preset must be a valid provider")
			assert.NotEmpty(t, p.Image, "every preset has a docker variant image")
		})
	}

	_, err := Preset("teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ngrok")
}

// TestPreset_ReturnsCopy makes sure callers cannot corrupt the built-ins.
func TestPreset_ReturnsCopy(t *testing.T) {
	p, err := Preset(PresetNgrok)
	require.NoError(t, err)
	p.Args[0] = "tcp"

	again, err := Preset(PresetNgrok)
	require.NoError(t, err)
	assert.Equal(t, "http", again.Args[0])
}

func TestPresetNames(t *testing.T) {
	assert.Equal(t, []string{"cloudflared", "localtunnel", "ngrok"}, PresetNames())
}

func TestMerge(t *testing.T) {
	base, err := Preset(PresetCloudflared)
	require.NoError(t, err)

	merged := Merge(base, model.Provider{
		Name:    "cloudflared-docker",
		Runtime: model.RuntimeDocker,
		Timeout: 45 * time.Second,
		Env:     map[string]string{"TUNNEL_LOGLEVEL": "info"},
	})

	assert.Equal(t, "cloudflared-docker", merged.Name)
	assert.Equal(t, model.RuntimeDocker, merged.Runtime)
	assert.Equal(t, base.Args, merged.Args, "args are kept when not overridden")
	assert.Equal(t, CloudflaredURLPattern, merged.URLPattern)
	assert.Equal(t, 45*time.Second, merged.Timeout)
	assert.Equal(t, "info", merged.Env["TUNNEL_LOGLEVEL"])

	replaced := Merge(base, model.Provider{Args: []string{"tunnel", "run"}})
	assert.Equal(t, []string{"tunnel", "run"}, replaced.Args)
}

func TestTemplater_Replace(t *testing.T) {
	p := model.Provider{Name: "ngrok"}
	tpl := NewTemplater(p, 5001, "run-1")

	tests := []struct {
		input    string
		expected string
		hasError bool
	}{
		{"{{ port }}", "5001", false},
		{"{{port}}", "5001", false},
		{"http://localhost:{{ port }}", "http://localhost:5001", false},
		{"{{ name }}-{{ run_id }}", "ngrok-run-1", false},
		{"{{ PORT }}", "5001", false},
		{"no templates", "no templates", false},
		{"{{ region }}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, err := tpl.Replace(tt.input)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, out)
			}
		})
	}
}

func TestRender(t *testing.T) {
	p, err := Preset(PresetCloudflared)
	require.NoError(t, err)
	p.Env = map[string]string{"TUNNEL_ORIGIN": "http://localhost:{{ port }}"}

	spec, err := Render(p, 5001, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel", "--no-autoupdate", "--url", "http://localhost:5001"}, spec.Args)
	assert.Equal(t, "http://localhost:5001", spec.Env["TUNNEL_ORIGIN"])
	assert.Equal(t, 5001, spec.LocalPort)
	assert.Equal(t, "run-1", spec.RunID)
	assert.Nil(t, spec.Capture)

	p.Args = append(p.Args, "{{ region }}")
	_, err = Render(p, 5001, "run-1")
	assert.Error(t, err)
}

func TestCommandLine(t *testing.T) {
	p, err := Preset(PresetNgrok)
	require.NoError(t, err)
	assert.Equal(t, "ngrok http 5001 --log stdout", CommandLine(p, 5001))

	p.Runtime = model.RuntimeDocker
	assert.Equal(t, "docker:ngrok/ngrok:latest http 5001 --log stdout", CommandLine(p, 5001))
}
