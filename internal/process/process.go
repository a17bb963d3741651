package process

import (
	"context"
	"errors"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// ErrUnavailable marks an Available failure: the provider's binary or
// image cannot be found. Launchers wrap it with the specific cause.
var ErrUnavailable = errors.New("provider unavailable")

// Process is the exclusive handle to one running tunnel agent. Exactly
// one owner holds it at a time: the orchestrator while polling, then the
// caller's Tunnel after a successful handoff.
type Process interface {
	// ID identifies the process: a PID for exec, a container ID for docker.
	ID() string

	// Output returns a snapshot of everything the agent has written.
	Output() []byte

	// Done is closed once the agent has exited.
	Done() <-chan struct{}

	// ExitErr returns the exit error after Done is closed.
	ExitErr() error

	// Terminate forcibly stops the agent and waits for it to exit. It is
	// idempotent.
	Terminate() error
}

// LaunchSpec is a fully rendered launch request.
type LaunchSpec struct {
	// Provider is the provider being launched.
	Provider model.Provider

	// LocalPort is the port the tunnel forwards to.
	LocalPort int

	// Args are the rendered launch arguments.
	Args []string

	// Env holds the rendered extra environment variables.
	Env map[string]string

	// Capture receives the agent's stdout and stderr.
	Capture *Capture

	// RunID identifies the orchestration call that launched the agent.
	RunID string
}

// Launcher starts tunnel agents for one runtime.
type Launcher interface {
	// Available reports whether the provider can be launched. It must not
	// start any process or pull anything. Failures wrap ErrUnavailable.
	Available(ctx context.Context, p model.Provider) error

	// Launch starts the agent and returns its handle. The agent's lifetime
	// is independent of ctx; only Terminate stops it.
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
