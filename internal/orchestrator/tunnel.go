package orchestrator

import (
	"context"
	"sync"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/process"
)

// Outcome is the result of one Expose call.
type Outcome struct {
	// RunID identifies the call in logs and container labels.
	RunID string `json:"runId"`

	// Attempts holds one entry per provider tried, in input order.
	Attempts []model.Attempt `json:"attempts"`

	// Tunnel is the running tunnel. Set only when Ready reports true.
	Tunnel *Tunnel `json:"-"`
}

// Ready reports whether a provider produced a public URL.
func (o *Outcome) Ready() bool {
	return o.Tunnel != nil
}

// Cancelled reports whether the call was aborted by its context.
func (o *Outcome) Cancelled() bool {
	n := len(o.Attempts)
	return !o.Ready() && n > 0 && o.Attempts[n-1].Reason == model.ReasonCancelled
}

// Err returns nil when ready and an *model.ExposeError otherwise.
func (o *Outcome) Err() error {
	if o.Ready() {
		return nil
	}
	return &model.ExposeError{Attempts: o.Attempts}
}

// Tunnel is the exclusive handle to a ready tunnel agent. The agent keeps
// running until Close is called or it exits on its own.
type Tunnel struct {
	provider string
	url      string
	proc     process.Process
	recorder Recorder

	closeOnce sync.Once
	closeErr  error
}

func newTunnel(provider, url string, proc process.Process, recorder Recorder) *Tunnel {
	return &Tunnel{
		provider: provider,
		url:      url,
		proc:     proc,
		recorder: recorder,
	}
}

// URL returns the public URL.
func (t *Tunnel) URL() string { return t.url }

// Provider returns the name of the provider serving the tunnel.
func (t *Tunnel) Provider() string { return t.provider }

// ID returns the agent's PID or container ID.
func (t *Tunnel) ID() string { return t.proc.ID() }

// Output returns everything the agent has written so far.
func (t *Tunnel) Output() []byte { return t.proc.Output() }

// Done is closed when the agent exits.
func (t *Tunnel) Done() <-chan struct{} { return t.proc.Done() }

// Wait blocks until the agent exits or ctx is done. It returns the
// agent's exit error, or ctx.Err() if ctx ended first.
func (t *Tunnel) Wait(ctx context.Context) error {
	select {
	case <-t.proc.Done():
		return t.proc.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the agent. It is idempotent.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.proc.Terminate()
		t.recorder.TunnelClosed(t.provider)
	})
	return t.closeErr
}
