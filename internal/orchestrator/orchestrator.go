package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/process"
	"github.com/shinji-kodama/tunnelctl/internal/provider"
	"github.com/shinji-kodama/tunnelctl/internal/readiness"
)

const (
	// DefaultTimeout is the readiness window when neither the call nor
	// the provider sets one.
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is the pause between readiness probes.
	DefaultPollInterval = 1 * time.Second
)

// Recorder receives attempt and tunnel lifecycle events. The metrics
// package implements it.
type Recorder interface {
	AttemptFinished(a model.Attempt)
	TunnelOpened(provider string)
	TunnelClosed(provider string)
}

type nopRecorder struct{}

func (nopRecorder) AttemptFinished(model.Attempt) {}
func (nopRecorder) TunnelOpened(string)           {}
func (nopRecorder) TunnelClosed(string)           {}

// Orchestrator establishes a tunnel by trying providers one at a time.
// It is safe to call Expose concurrently; every call has its own handle
// registry.
type Orchestrator struct {
	launchers    map[model.Runtime]process.Launcher
	logger       *zap.Logger
	pollInterval time.Duration
	recorder     Recorder
	newRunID     func() string
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLauncher sets the launcher for a runtime. The exec runtime has a
// default launcher; the docker runtime needs one supplied.
func WithLauncher(rt model.Runtime, l process.Launcher) Option {
	return func(o *Orchestrator) {
		o.launchers[rt] = l
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPollInterval sets the pause between readiness probes.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithRecorder sets the lifecycle event sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launchers: map[model.Runtime]process.Launcher{
			model.RuntimeExec: process.NewExecLauncher(),
		},
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
		recorder:     nopRecorder{},
		newRunID:     func() string { return uuid.NewString() },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Expose makes localPort reachable through the first provider that
// becomes ready. Providers are tried strictly in order; at most one agent
// runs at any moment.
//
// perProviderTimeout bounds each attempt from its launch. When it is zero
// or negative the provider's own Timeout applies, then DefaultTimeout.
//
// Cancelling ctx terminates the agent being polled, records the attempt
// as cancelled and stops without trying further providers. A ready
// outcome hands the running agent to Outcome.Tunnel; the caller must
// Close it.
func (o *Orchestrator) Expose(ctx context.Context, localPort int, providers []model.Provider, perProviderTimeout time.Duration) *Outcome {
	runID := o.newRunID()
	log := o.logger.With(zap.String("run_id", runID), zap.Int("local_port", localPort))
	reg := newRegistry()
	defer reg.terminateAll(log)

	out := &Outcome{RunID: runID}
	log.Debug("expose started", zap.Int("providers", len(providers)))

	for _, p := range providers {
		timeout := resolveTimeout(perProviderTimeout, p.Timeout)
		attempt, tunnel := o.try(ctx, log.With(zap.String("provider", p.Name)), reg, p, localPort, runID, timeout)

		out.Attempts = append(out.Attempts, attempt)
		o.recorder.AttemptFinished(attempt)

		if attempt.Ready() {
			out.Tunnel = tunnel
			o.recorder.TunnelOpened(p.Name)
			log.Info("tunnel ready",
				zap.String("provider", p.Name),
				zap.String("url", attempt.PublicURL),
				zap.Duration("elapsed", attempt.Duration))
			return out
		}
		if !attempt.State.AllowsFallback() {
			log.Info("expose cancelled", zap.String("provider", p.Name))
			return out
		}
		log.Warn("provider failed, falling back",
			zap.String("provider", p.Name),
			zap.String("reason", attempt.Reason.String()),
			zap.String("detail", attempt.Detail))
	}
	return out
}

// resolveTimeout applies the call > provider > default precedence.
func resolveTimeout(call, own time.Duration) time.Duration {
	switch {
	case call > 0:
		return call
	case own > 0:
		return own
	default:
		return DefaultTimeout
	}
}

// try runs one provider attempt to a terminal state. On success it also
// returns the Tunnel that now owns the agent.
func (o *Orchestrator) try(ctx context.Context, log *zap.Logger, reg *registry, p model.Provider, localPort int, runID string, timeout time.Duration) (model.Attempt, *Tunnel) {
	start := o.now()
	state := model.StateNotStarted
	fail := func(reason model.FailureReason, detail string) model.Attempt {
		a := model.NewFailedAttempt(p.Name, reason, detail, start, o.now().Sub(start))
		log.Debug("attempt state",
			zap.Stringer("from", state),
			zap.Stringer("to", a.State))
		return a
	}

	if err := ctx.Err(); err != nil {
		return fail(model.ReasonCancelled, err.Error()), nil
	}

	rt := p.Runtime
	if rt == "" {
		rt = model.RuntimeExec
	}
	launcher, ok := o.launchers[rt]
	if !ok {
		return fail(model.ReasonUnavailable, fmt.Sprintf("no launcher for runtime %q", rt)), nil
	}
	if err := launcher.Available(ctx, p); err != nil {
		if ctx.Err() != nil {
			return fail(model.ReasonCancelled, ctx.Err().Error()), nil
		}
		return fail(model.ReasonUnavailable, err.Error()), nil
	}

	detector, err := readiness.ForProvider(p)
	if err != nil {
		return fail(model.ReasonLaunchFailed, err.Error()), nil
	}
	spec, err := provider.Render(p, localPort, runID)
	if err != nil {
		return fail(model.ReasonLaunchFailed, err.Error()), nil
	}
	spec.Capture, err = newCapture(p)
	if err != nil {
		return fail(model.ReasonLaunchFailed, err.Error()), nil
	}

	// A handle left from an earlier attempt of the same provider in this
	// call still holds its port or API endpoint.
	if err := reg.terminate(p.Name); err != nil {
		log.Warn("failed to terminate previous agent", zap.Error(err))
	}

	state = model.StateLaunching
	log.Debug("launching agent",
		zap.String("runtime", string(rt)),
		zap.Strings("args", spec.Args),
		zap.Duration("timeout", timeout))

	proc, err := launcher.Launch(ctx, spec)
	if err != nil {
		_ = spec.Capture.Close()
		if ctx.Err() != nil {
			return fail(model.ReasonCancelled, "cancelled while launching: "+err.Error()), nil
		}
		if errors.Is(err, process.ErrUnavailable) {
			return fail(model.ReasonUnavailable, err.Error()), nil
		}
		return fail(model.ReasonLaunchFailed, err.Error()), nil
	}
	reg.put(p.Name, proc)
	launchedAt := o.now()
	log.Debug("agent launched", zap.String("id", proc.ID()))

	state = model.StatePolling
	url, reason, detail := o.poll(ctx, log, proc, detector, launchedAt.Add(timeout), timeout)
	if reason == model.ReasonNone {
		reg.release(p.Name, proc)
		attempt := model.NewReadyAttempt(p.Name, url, start, o.now().Sub(start))
		return attempt, newTunnel(p.Name, url, proc, o.recorder)
	}

	if err := reg.terminate(p.Name); err != nil {
		log.Warn("failed to terminate agent", zap.Error(err))
	}
	return fail(reason, detail), nil
}

func newCapture(p model.Provider) (*process.Capture, error) {
	if p.CaptureFile != "" {
		return process.NewFileCapture(p.CaptureFile)
	}
	return process.NewCapture(), nil
}

// poll probes the agent until it reports a URL, exits, the deadline
// passes or ctx is cancelled. A last probe always runs at the deadline.
// Probe errors are logged and retried on the next tick.
func (o *Orchestrator) poll(ctx context.Context, log *zap.Logger, proc process.Process, det readiness.Detector, deadline time.Time, timeout time.Duration) (string, model.FailureReason, string) {
	for tick := 1; ; tick++ {
		wait := o.pollInterval
		final := false
		if remaining := time.Until(deadline); remaining <= wait {
			wait = max(remaining, 0)
			final = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", model.ReasonCancelled, "cancelled while waiting for readiness"
		case <-proc.Done():
			timer.Stop()
			// Output written right before the exit is still scanned.
			if url, err := det.Detect(ctx, proc); err == nil && url != "" {
				return url, model.ReasonNone, ""
			}
			return "", model.ReasonLaunchFailed, exitDetail(proc)
		case <-timer.C:
		}

		url, err := det.Detect(ctx, proc)
		if ctx.Err() != nil {
			return "", model.ReasonCancelled, "cancelled while waiting for readiness"
		}
		switch {
		case err != nil:
			log.Debug("readiness probe failed", zap.Int("tick", tick), zap.Error(err))
		case url != "":
			return url, model.ReasonNone, ""
		default:
			log.Debug("not ready yet", zap.Int("tick", tick))
		}

		if final || !time.Now().Before(deadline) {
			return "", model.ReasonTimeout, fmt.Sprintf("no public URL within %s", timeout)
		}
	}
}

// exitDetail describes an agent that exited before becoming ready,
// including the tail of its output.
func exitDetail(proc process.Process) string {
	msg := "agent exited before becoming ready"
	if err := proc.ExitErr(); err != nil {
		msg += ": " + err.Error()
	}
	if tail := lastLine(proc.Output()); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// maxDetailLine bounds the output tail carried in a failure detail.
const maxDetailLine = 200

// lastLine returns the last non-empty line of out, truncated to
// maxDetailLine bytes on a rune boundary.
func lastLine(out []byte) string {
	end := len(out)
	for end > 0 && (out[end-1] == '\n' || out[end-1] == '\r' || out[end-1] == ' ') {
		end--
	}
	startIdx := end
	for startIdx > 0 && out[startIdx-1] != '\n' {
		startIdx--
	}
	line := string(out[startIdx:end])
	if len(line) > maxDetailLine {
		cut := maxDetailLine
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	return line
}
