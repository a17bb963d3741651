package port

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// listen starts a loopback listener on an OS-assigned port and returns
// the port. The listener is closed when the test ends.
func listen(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = l.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return p
}

func TestIsPortAvailable(t *testing.T) {
	s := NewScanner()

	used := listen(t)
	assert.False(t, s.IsPortAvailable(used), "port %d should be in use", used)

	free := freePort(t)
	assert.True(t, s.IsPortAvailable(free), "port %d should be free", free)
	assert.True(t, s.IsPortAvailable(free), "checking must not keep the port bound")
}

func TestIsListening(t *testing.T) {
	s := NewScanner()
	assert.True(t, s.IsListening(listen(t)))
	assert.False(t, s.IsListening(freePort(t)))
}

func TestPreflight(t *testing.T) {
	s := NewScanner()
	app := listen(t)
	busyAPI := listen(t)

	ngrok := model.Provider{
		Name:     "ngrok",
		Strategy: model.StrategyAPI,
		APIURL:   "http://127.0.0.1:" + strconv.Itoa(busyAPI) + "/api/tunnels",
	}
	cloudflared := model.Provider{Name: "cloudflared", Strategy: model.StrategyLogScan}

	t.Run("all clear", func(t *testing.T) {
		assert.Empty(t, s.Preflight(app, []model.Provider{cloudflared}))
	})

	t.Run("idle local port", func(t *testing.T) {
		warnings := s.Preflight(freePort(t), nil)
		require.Len(t, warnings, 1)
		assert.Equal(t, "local-port-idle", warnings[0].Code)
	})

	t.Run("busy api port reported once", func(t *testing.T) {
		ngrok2 := ngrok
		ngrok2.Name = "ngrok-docker"
		warnings := s.Preflight(app, []model.Provider{ngrok, cloudflared, ngrok2})
		require.Len(t, warnings, 1)
		assert.Equal(t, "api-port-busy", warnings[0].Code)
		assert.Equal(t, "ngrok", warnings[0].Provider)
	})
}

func TestLoopbackPort(t *testing.T) {
	tests := []struct {
		url      string
		expected int
		ok       bool
	}{
		{"http://127.0.0.1:4040/api/tunnels", 4040, true},
		{"http://localhost:4041/api/tunnels", 4041, true},
		{"http://[::1]:4040/", 4040, true},
		{"http://127.0.0.1/api", 80, true},
		{"https://localhost/api", 443, true},
		{"http://10.0.0.5:4040/api/tunnels", 0, false},
		{"http://example.com:4040/", 0, false},
		{"http://127.0.0.1:99999/", 0, false},
		{"::not a url", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			p, ok := LoopbackPort(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, p)
		})
	}
}
