package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// defaultKillWait is how long Terminate waits for a killed agent to be
// reaped before giving up.
const defaultKillWait = 5 * time.Second

// ExecLauncher runs tunnel agents as child processes. Each agent is put
// in its own process group so that Terminate also reaches helpers the
// agent spawns (npx wrappers, shell shims).
type ExecLauncher struct {
	// lookPath resolves the provider command. Replaced in tests.
	lookPath func(string) (string, error)

	killWait time.Duration
}

// NewExecLauncher creates an ExecLauncher that resolves commands via PATH.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{
		lookPath: exec.LookPath,
		killWait: defaultKillWait,
	}
}

// Available resolves the provider command without running it.
func (l *ExecLauncher) Available(_ context.Context, p model.Provider) error {
	if p.Command == "" {
		return fmt.Errorf("%w: provider %q has no command", ErrUnavailable, p.Name)
	}
	if _, err := l.lookPath(p.Command); err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrUnavailable, p.Command, err)
	}
	return nil
}

// Launch starts the agent with its stdout and stderr both sent to
// spec.Capture.
//
// exec.Command is used instead of exec.CommandContext: a successful
// tunnel outlives the orchestration context, so only Terminate may stop
// it.
func (l *ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	path, err := l.lookPath(spec.Provider.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, spec.Provider.Command, err)
	}

	capture := spec.Capture
	if capture == nil {
		capture = NewCapture()
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	// One writer for both streams: exec shares a single pipe when Stdout
	// and Stderr are the same value, which keeps lines in order.
	cmd.Stdout = capture
	cmd.Stderr = capture
	// Bounds how long Wait blocks on the output pipe after the agent dies
	// if an orphaned grandchild still holds it.
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Provider.Command, err)
	}

	p := &execProcess{
		cmd:      cmd,
		capture:  capture,
		done:     make(chan struct{}),
		killWait: l.killWait,
	}
	go p.wait()
	return p, nil
}

// mergeEnv appends extra variables to base in a stable order.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// execProcess is the handle to a child process started by ExecLauncher.
type execProcess struct {
	cmd      *exec.Cmd
	capture  *Capture
	done     chan struct{}
	waitErr  error
	killWait time.Duration

	termOnce sync.Once
	termErr  error
}

func (p *execProcess) wait() {
	p.waitErr = p.cmd.Wait()
	_ = p.capture.Close()
	close(p.done)
}

func (p *execProcess) ID() string {
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *execProcess) Output() []byte {
	return p.capture.Bytes()
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// ExitErr is only meaningful after Done is closed.
func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Terminate kills the whole process group and waits for the agent to be
// reaped.
func (p *execProcess) Terminate() error {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if err := killProcessTree(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.termErr = fmt.Errorf("failed to kill pid %d: %w", p.cmd.Process.Pid, err)
			return
		}

		select {
		case <-p.done:
		case <-time.After(p.killWait):
			p.termErr = fmt.Errorf("pid %d did not exit within %s after kill", p.cmd.Process.Pid, p.killWait)
		}
	})
	return p.termErr
}
