// Package orchestrator establishes a public tunnel to a local port by
// trying tunnel providers in order until one becomes ready.
//
// Each attempt goes through availability check, launch and readiness
// polling:
//
//	not_started → launching → polling → {ready | timed_out | launch_failed}
//	not_started → unavailable
//	launching/polling → cancelled
//
// Only one agent runs at a time. A timed-out or failed agent is killed
// before the next provider launches; a ready agent is handed to the
// caller as a Tunnel and keeps running after Expose returns.
package orchestrator
