package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// setJSON switches the global --json flag for the duration of a test.
func setJSON(t *testing.T, on bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = on
	t.Cleanup(func() { jsonOutput = prev })
}

// isolateEnv unsets every TUNNELCTL_* variable and the --config flag.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "TIMEOUT", "POLL_INTERVAL", "PROVIDERS", "CONFIG", "LOG_LEVEL"} {
		key := "TUNNELCTL_" + k
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	prev := configPath
	configPath = ""
	t.Cleanup(func() { configPath = prev })
}

func exitCodeOf(t *testing.T, err error) model.ExitCode {
	t.Helper()
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr), "expected a CLIError, got %v", err)
	return cliErr.Code
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling
// reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"expose", "discover", "providers", "cleanup"}, names)

	for _, flag := range []string{"json", "verbose", "config", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing persistent flag --%s", flag)
	}
}

func TestPrintError(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		setJSON(t, false)
		var buf bytes.Buffer
		printError(&buf, "no tunnel established", errors.New("ngrok: unavailable"))
		assert.Equal(t, "Error: no tunnel established: ngrok: unavailable\n", buf.String())

		buf.Reset()
		printError(&buf, "cancelled", nil)
		assert.Equal(t, "Error: cancelled\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		setJSON(t, true)
		var buf bytes.Buffer
		printError(&buf, "invalid port", errors.New("port 0 out of range"))

		var got struct {
			Error struct {
				Message string `json:"message"`
				Detail  string `json:"detail"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "invalid port", got.Error.Message)
		assert.Equal(t, "port 0 out of range", got.Error.Detail)
	})
}

func TestSetLogger(t *testing.T) {
	prev := logger
	t.Cleanup(func() { logger = prev })

	require.NoError(t, setLogger("info"))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	err := setLogger("loud")
	require.Error(t, err)
	assert.Equal(t, model.ExitConfigInvalid, exitCodeOf(t, err))
}

func TestLoadConfig_LogLevelFromEnv(t *testing.T) {
	isolateEnv(t)
	prev := logger
	t.Cleanup(func() { logger = prev })
	t.Setenv("TUNNELCTL_LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "the environment level applies")
}
