package classify

import "github.com/polarlab/coincidence-rig/internal/simulator"

// #region classify-config
// Config holds thresholds for the entanglement verdict.
type Config struct {
	MinVisibility float64 // (hi-lo)/(hi+lo) required to call a result entangled
	MinSignal     int     // total counts below this mean the detectors saw nothing
}

// DefaultConfig returns thresholds that accept every banded simulator outcome.
func DefaultConfig() Config {
	return Config{
		MinVisibility: 0.8,
		MinSignal:     1,
	}
}
// #endregion classify-config

// #region check
// Check captures a single verdict criterion.
type Check struct {
	Name  string
	Value float64
	Pass  bool
}
// #endregion check

// #region verdict
// Verdict is the derived classification of four peaks.
type Verdict struct {
	Entangled  bool
	Pattern    simulator.Pattern
	Visibility float64
	Checks     []Check
	Reason     string
}
// #endregion verdict
