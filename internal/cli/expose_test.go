package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/tunnelctl/internal/logging"
	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/orchestrator"
	"github.com/shinji-kodama/tunnelctl/internal/port"
)

// skipWithoutShell skips tests that use /bin/sh as a stand-in agent.
func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("agent stand-ins use /bin/sh")
	}
}

// shellAgent returns a log-scan provider whose agent is a shell script.
func shellAgent(name, script string) model.Provider {
	return model.Provider{
		Name:       name,
		Runtime:    model.RuntimeExec,
		Command:    "sh",
		Args:       []string{"-c", script},
		Strategy:   model.StrategyLogScan,
		URLPattern: `https://\S+`,
	}
}

func newTestExposer(providers []model.Provider, stdout, stderr *syncBuffer) *exposer {
	return &exposer{
		orch:      orchestrator.New(orchestrator.WithPollInterval(10 * time.Millisecond)),
		localPort: 5001,
		timeout:   2 * time.Second,
		providers: providers,
		stdout:    stdout,
		stderr:    stderr,
		log:       logging.NewNop(),
	}
}

func TestExposeAndHold_PrintsURLAndHoldsUntilCancelled(t *testing.T) {
	skipWithoutShell(t)
	setJSON(t, false)

	var stdout, stderr syncBuffer
	e := newTestExposer([]model.Provider{
		{Name: "missing", Runtime: model.RuntimeExec, Command: "tunnelctl-no-such-agent",
			Strategy: model.StrategyLogScan, URLPattern: `https://\S+`},
		shellAgent("demo", "echo 'url: https://demo.example.test'; sleep 30"),
	}, &stdout, &stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- e.exposeAndHold(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "https://demo.example.test")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "https://demo.example.test\n", stdout.String(), "text mode prints the bare URL")
	assert.Contains(t, stderr.String(), "Tunnel ready via demo")

	select {
	case err := <-errCh:
		t.Fatalf("exposeAndHold returned before cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err, "a tunnel closed by the caller is a clean exit")
	case <-time.After(5 * time.Second):
		t.Fatal("exposeAndHold did not return after cancel")
	}
}

func TestExposeAndHold_JSON(t *testing.T) {
	skipWithoutShell(t)
	setJSON(t, true)

	var stdout, stderr syncBuffer
	e := newTestExposer([]model.Provider{
		shellAgent("demo", "echo https://json.example.test; sleep 30"),
	}, &stdout, &stderr)
	e.warnings = []port.Warning{{Code: "local-port-idle", Message: "idle"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- e.exposeAndHold(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "}")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	var got exposeResultJSON
	require.NoError(t, json.Unmarshal([]byte(stdout.String()), &got))
	assert.Equal(t, "https://json.example.test", got.PublicURL)
	assert.Equal(t, "demo", got.Provider)
	assert.Equal(t, 5001, got.LocalPort)
	assert.NotEmpty(t, got.RunID)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, model.StateReady, got.Attempts[0].State)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, "local-port-idle", got.Warnings[0].Code)
	assert.Empty(t, stderr.String(), "JSON mode keeps stderr quiet")
}

func TestExposeAndHold_AgentExitIsAnError(t *testing.T) {
	skipWithoutShell(t)
	setJSON(t, false)

	var stdout, stderr syncBuffer
	e := newTestExposer([]model.Provider{
		shellAgent("short", "echo https://short.example.test; sleep 0.3"),
	}, &stdout, &stderr)

	err := e.exposeAndHold(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.ExitNoTunnel, exitCodeOf(t, err))
	assert.Contains(t, err.Error(), "short")
	assert.Equal(t, "https://short.example.test\n", stdout.String())
}

func TestExposeAndHold_NoProviderAvailable(t *testing.T) {
	setJSON(t, false)

	var stdout, stderr syncBuffer
	e := newTestExposer([]model.Provider{
		{Name: "ghost", Runtime: model.RuntimeExec, Command: "tunnelctl-no-such-agent",
			Strategy: model.StrategyAPI},
	}, &stdout, &stderr)

	err := e.exposeAndHold(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.ExitNoTunnel, exitCodeOf(t, err))

	var exposeErr *model.ExposeError
	require.True(t, errors.As(err, &exposeErr))
	assert.Equal(t, []model.FailureReason{model.ReasonUnavailable}, exposeErr.Reasons())

	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "PROVIDER")
	assert.Contains(t, stderr.String(), "ghost")
	assert.Contains(t, stderr.String(), "unavailable")
}

func TestExposeAndHold_Cancelled(t *testing.T) {
	setJSON(t, false)

	var stdout, stderr syncBuffer
	e := newTestExposer([]model.Provider{
		{Name: "ghost", Runtime: model.RuntimeExec, Command: "tunnelctl-no-such-agent",
			Strategy: model.StrategyAPI},
	}, &stdout, &stderr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.exposeAndHold(ctx)
	require.Error(t, err)
	assert.Equal(t, model.ExitCancelled, exitCodeOf(t, err))
	assert.Empty(t, stderr.String(), "no attempt table for a cancelled run")
}

// stubTunnel is a heldTunnel whose agent exits when exit is closed.
type stubTunnel struct {
	exit    chan struct{}
	exitErr error
}

func (s *stubTunnel) Wait(ctx context.Context) error {
	select {
	case <-s.exit:
		return s.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubTunnel) Provider() string { return "stub" }

func TestHoldTunnel(t *testing.T) {
	t.Run("cancelled context is a clean exit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, holdTunnel(ctx, &stubTunnel{exit: make(chan struct{})}))
	})

	t.Run("agent exit with error", func(t *testing.T) {
		s := &stubTunnel{exit: make(chan struct{}), exitErr: errors.New("exit status 1")}
		close(s.exit)
		err := holdTunnel(context.Background(), s)
		require.Error(t, err)
		assert.Equal(t, model.ExitNoTunnel, exitCodeOf(t, err))
		assert.Contains(t, err.Error(), "exit status 1")
	})

	t.Run("agent exit without error", func(t *testing.T) {
		s := &stubTunnel{exit: make(chan struct{})}
		close(s.exit)
		err := holdTunnel(context.Background(), s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent exited")
	})
}

func TestNeedsDocker(t *testing.T) {
	assert.False(t, needsDocker(nil))
	assert.False(t, needsDocker([]model.Provider{{Runtime: model.RuntimeExec}}))
	assert.True(t, needsDocker([]model.Provider{{Runtime: model.RuntimeExec}, {Runtime: model.RuntimeDocker}}))
}

func TestPrintAttempts(t *testing.T) {
	var buf bytes.Buffer
	printAttempts(&buf, []model.Attempt{
		model.NewFailedAttempt("ngrok", model.ReasonUnavailable, "ngrok not found", time.Time{}, 0),
		model.NewFailedAttempt("cloudflared", model.ReasonTimeout, "", time.Time{}, 0),
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PROVIDER"))
	assert.Contains(t, lines[1], "unavailable")
	assert.Contains(t, lines[1], "ngrok not found")
	assert.Contains(t, lines[2], "timed_out")
	assert.True(t, strings.HasSuffix(lines[2], "-"), "empty detail shows as a dash")

	buf.Reset()
	printAttempts(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestPrintWarnings(t *testing.T) {
	var buf bytes.Buffer
	printWarnings(&buf, []port.Warning{{Code: "local-port-idle", Message: "nothing is listening"}})
	assert.Equal(t, "Warning: nothing is listening\n", buf.String())
}
