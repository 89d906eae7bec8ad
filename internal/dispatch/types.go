package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/polarlab/coincidence-rig/internal/classify"
	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region errors
// ErrNoBridge is the reason recorded when hardware mode is requested without a bridge URL.
var ErrNoBridge = errors.New("hardware requested but no bridge url configured")
// #endregion errors

// #region measurer
// Measurement is what a backend reports for one angle triple.
type Measurement struct {
	Peaks      simulator.CoincidencePeaks
	Source     string // runlog.Source*
	Seed       uint64
	Policy     string
	ConfigJSON string
	Entangled  bool
	Pattern    simulator.Pattern
}

// Measurer produces peaks for an angle triple.
type Measurer interface {
	Measure(ctx context.Context, angles simulator.AngleTriple) (Measurement, error)
}

// Bridge executes a measurement on remote hardware. *remote.Client satisfies it.
type Bridge interface {
	Execute(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error)
}

// BridgeFactory builds a Bridge for a URL and per-call timeout.
type BridgeFactory func(url string, timeout time.Duration) Bridge
// #endregion measurer

// #region result
// Result is the outcome of one Dispatch call.
type Result struct {
	Measurement
	RunID    string
	Angles   simulator.AngleTriple
	Mode     config.Mode
	Decision string // logging.Decision*
	Reason   string
	Attempts int
	Verdict  classify.Verdict
	Duration time.Duration
}
// #endregion result
