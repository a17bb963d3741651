package orchestrator

import (
	"errors"

	"go.uber.org/zap"

	"github.com/shinji-kodama/tunnelctl/internal/process"
)

// registry tracks the agents one Expose call has launched and still
// owns, keyed by provider name. Agents are found through their handles,
// never by process or container name. Only the control goroutine uses
// it.
//
// An agent whose Terminate fails stays registered, so the next terminate
// of that name, or terminateAll at the end of the call, tries again.
type registry struct {
	handles map[string][]process.Process
}

func newRegistry() *registry {
	return &registry{handles: make(map[string][]process.Process)}
}

func (r *registry) put(name string, p process.Process) {
	r.handles[name] = append(r.handles[name], p)
}

// release drops the handle p without stopping the agent. Used when the
// handle moves to a Tunnel.
func (r *registry) release(name string, p process.Process) {
	hs := r.handles[name]
	for i, h := range hs {
		if h == p {
			r.set(name, append(hs[:i:i], hs[i+1:]...))
			return
		}
	}
}

// terminate stops every agent registered under name.
func (r *registry) terminate(name string) error {
	var (
		errs []error
		kept []process.Process
	)
	for _, p := range r.handles[name] {
		if err := p.Terminate(); err != nil {
			errs = append(errs, err)
			kept = append(kept, p)
		}
	}
	r.set(name, kept)
	return errors.Join(errs...)
}

// terminateAll stops every agent still owned by the call.
func (r *registry) terminateAll(log *zap.Logger) {
	for name := range r.handles {
		if err := r.terminate(name); err != nil {
			log.Warn("failed to terminate agent", zap.String("provider", name), zap.Error(err))
		}
	}
}

func (r *registry) set(name string, hs []process.Process) {
	if len(hs) == 0 {
		delete(r.handles, name)
		return
	}
	r.handles[name] = hs
}

func (r *registry) len() int {
	n := 0
	for _, hs := range r.handles {
		n += len(hs)
	}
	return n
}
