// Package readiness implements the per-provider readiness detectors that
// discover a tunnel agent's public URL.
//
// Two strategies exist:
//   - APIDetector polls the agent's loopback status API and reads the
//     public URL of the first tunnel record.
//   - LogScanDetector re-scans the agent's whole captured output on every
//     call and returns the first URL matching a pattern.
//
// A detector returns ("", nil) while the agent is not ready yet and a
// non-nil error only for transient probe failures, which the caller
// absorbs and retries on its next tick.
package readiness

import (
	"context"
	"fmt"

	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// Source exposes the captured output of an agent. process.Process
// satisfies it.
type Source interface {
	Output() []byte
}

// Detector checks one agent for readiness.
type Detector interface {
	// Detect returns the public URL once the agent is ready, ("", nil)
	// while it is not, or a probe error.
	Detect(ctx context.Context, src Source) (string, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, src Source) (string, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, src Source) (string, error) {
	return f(ctx, src)
}

// ForProvider builds the detector selected by the provider's strategy.
func ForProvider(p model.Provider) (Detector, error) {
	switch p.Strategy {
	case model.StrategyAPI:
		return NewAPIDetector(p.EffectiveAPIURL()), nil
	case model.StrategyLogScan:
		return NewLogScanDetector(p.URLPattern)
	default:
		return nil, fmt.Errorf("provider %q: unknown readiness strategy %q", p.Name, p.Strategy)
	}
}
