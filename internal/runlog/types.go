package runlog

import (
	"time"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region run-source
// Where a run's peaks came from.
const (
	SourceSimulation = "simulation"
	SourceBridge     = "bridge"
	SourceFallback   = "fallback"
)
// #endregion run-source

// #region run-record
// RunRecord is one measurement: the angles sent, the peaks returned, and enough
// context (seed, simulator config) to reproduce simulated runs exactly.
type RunRecord struct {
	RunID      string
	Angles     simulator.AngleTriple
	Peaks      simulator.CoincidencePeaks
	Source     string
	Policy     string
	Seed       uint64
	Entangled  bool
	Pattern    simulator.Pattern
	ConfigJSON string
	CreatedAt  time.Time
}
// #endregion run-record

// #region run-with-provenance
// RunWithProvenance pairs a run with the dispatch decision that produced it.
type RunWithProvenance struct {
	RunRecord
	Mode     string
	Decision string
	Reason   string
}
// #endregion run-with-provenance
