package model

import (
	"fmt"
	"strings"
	"time"
)

// AttemptState is the lifecycle state of a single provider attempt.
// The state transitions are:
//
//	NotStarted → Launching → Polling → {Ready | TimedOut | LaunchFailed}
//	NotStarted → Unavailable (binary or image missing, nothing launched)
//	Launching/Polling → Cancelled (caller aborted)
//
// Ready and every failure state are terminal for the attempt. Only
// TimedOut, LaunchFailed and Unavailable allow the orchestrator to move
// on to the next provider.
type AttemptState string

const (
	StateNotStarted   AttemptState = "not_started"
	StateLaunching    AttemptState = "launching"
	StatePolling      AttemptState = "polling"
	StateReady        AttemptState = "ready"
	StateTimedOut     AttemptState = "timed_out"
	StateLaunchFailed AttemptState = "launch_failed"
	StateUnavailable  AttemptState = "unavailable"
	StateCancelled    AttemptState = "cancelled"
)

// String returns the string representation of AttemptState.
func (s AttemptState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s AttemptState) IsTerminal() bool {
	switch s {
	case StateReady, StateTimedOut, StateLaunchFailed, StateUnavailable, StateCancelled:
		return true
	default:
		return false
	}
}

// AllowsFallback reports whether the orchestrator may advance to the next
// provider after an attempt ended in this state.
func (s AttemptState) AllowsFallback() bool {
	switch s {
	case StateTimedOut, StateLaunchFailed, StateUnavailable:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step of
// the attempt state machine.
func (s AttemptState) CanTransition(next AttemptState) bool {
	switch s {
	case StateNotStarted:
		return next == StateLaunching || next == StateUnavailable || next == StateCancelled
	case StateLaunching:
		return next == StatePolling || next == StateLaunchFailed || next == StateCancelled
	case StatePolling:
		return next == StateReady || next == StateTimedOut || next == StateLaunchFailed || next == StateCancelled
	default:
		return false
	}
}

// FailureReason classifies why an attempt did not produce a public URL.
type FailureReason string

const (
	// ReasonNone is the zero value, used by ready attempts.
	ReasonNone FailureReason = ""

	// ReasonUnavailable means the provider binary or image was not found.
	ReasonUnavailable FailureReason = "unavailable"

	// ReasonLaunchFailed means the process could not be started or exited
	// before it became ready.
	ReasonLaunchFailed FailureReason = "launch_failed"

	// ReasonTimeout means no readiness signal appeared within the window.
	ReasonTimeout FailureReason = "timeout"

	// ReasonCancelled means the caller aborted the orchestration.
	ReasonCancelled FailureReason = "cancelled"
)

// String returns the string representation of FailureReason.
func (r FailureReason) String() string {
	return string(r)
}

// Attempt is the immutable result of trying one provider: either
// Ready{PublicURL, Provider} or Failed{Provider, Reason}. It is always
// passed by value.
type Attempt struct {
	// Provider is the provider name.
	Provider string `json:"provider"`

	// State is the terminal state of the attempt.
	State AttemptState `json:"state"`

	// PublicURL is the discovered URL. Set only when State is StateReady.
	PublicURL string `json:"publicUrl,omitempty"`

	// Reason is the failure classification. Empty when ready.
	Reason FailureReason `json:"reason,omitempty"`

	// Detail is a human-readable description of the failure cause.
	Detail string `json:"detail,omitempty"`

	// StartedAt is the launch time (or the check time when nothing was
	// launched).
	StartedAt time.Time `json:"startedAt"`

	// Duration is how long the attempt took from StartedAt.
	Duration time.Duration `json:"duration"`
}

// Ready reports whether the attempt discovered a public URL.
func (a Attempt) Ready() bool {
	return a.State == StateReady
}

// String returns a one-line summary such as
// "ngrok: timeout (no public URL within 30s)".
func (a Attempt) String() string {
	if a.Ready() {
		return fmt.Sprintf("%s: ready at %s", a.Provider, a.PublicURL)
	}
	if a.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", a.Provider, a.Reason, a.Detail)
	}
	return fmt.Sprintf("%s: %s", a.Provider, a.Reason)
}

// NewReadyAttempt builds a ready attempt.
func NewReadyAttempt(provider, publicURL string, startedAt time.Time, d time.Duration) Attempt {
	return Attempt{
		Provider:  provider,
		State:     StateReady,
		PublicURL: publicURL,
		StartedAt: startedAt,
		Duration:  d,
	}
}

// NewFailedAttempt builds a failed attempt. The state is derived from the
// reason.
func NewFailedAttempt(provider string, reason FailureReason, detail string, startedAt time.Time, d time.Duration) Attempt {
	return Attempt{
		Provider:  provider,
		State:     stateForReason(reason),
		Reason:    reason,
		Detail:    detail,
		StartedAt: startedAt,
		Duration:  d,
	}
}

func stateForReason(reason FailureReason) AttemptState {
	switch reason {
	case ReasonUnavailable:
		return StateUnavailable
	case ReasonLaunchFailed:
		return StateLaunchFailed
	case ReasonTimeout:
		return StateTimedOut
	case ReasonCancelled:
		return StateCancelled
	default:
		return StateNotStarted
	}
}

// ExposeError is the aggregate failure returned when no provider produced
// a public URL. Attempts keeps the input provider order.
type ExposeError struct {
	Attempts []Attempt
}

// Error lists every attempt's reason in order, e.g.
// "no tunnel established: ngrok: unavailable; cloudflared: timeout".
func (e *ExposeError) Error() string {
	if len(e.Attempts) == 0 {
		return "no tunnel established: no providers configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	return "no tunnel established: " + strings.Join(parts, "; ")
}

// Reasons returns the failure reason of every attempt, in order.
func (e *ExposeError) Reasons() []FailureReason {
	reasons := make([]FailureReason, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.Reason)
	}
	return reasons
}

// Cancelled reports whether the orchestration ended because the caller
// aborted it.
func (e *ExposeError) Cancelled() bool {
	n := len(e.Attempts)
	return n > 0 && e.Attempts[n-1].Reason == ReasonCancelled
}
