package logging

import "time"

// #region decisions
// Dispatch decisions recorded in provenance_log.
const (
	DecisionSimulate = "simulate"
	DecisionBridge   = "bridge"
	DecisionFallback = "fallback"
	DecisionError    = "error"
)
// #endregion decisions

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	RunID       string // empty when no run was recorded
	TriggerType string // "stdin" | "http" | "socket" | "cli"
	Mode        string // "simulation" | "hardware"
	Decision    string
	Reason      string
	Attempts    int
	CreatedAt   time.Time
}
// #endregion provenance-entry
