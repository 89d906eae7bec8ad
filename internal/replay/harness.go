// Package replay re-runs recorded simulated measurements from their seeds and
// checks that the simulator still produces the same peaks.
package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region types
// Replay statuses.
const (
	StatusMatch    = "match"
	StatusMismatch = "mismatch"
	StatusSkipped  = "skipped"
)

// Case is one measurement to reproduce. Peaks and Entangled are the recorded
// expectations; a nil expectation is not checked.
type Case struct {
	RunID      string
	Source     string
	Angles     simulator.AngleTriple
	Seed       uint64
	Policy     string
	ConfigJSON string
	Peaks      *simulator.CoincidencePeaks
	Entangled  *bool
}

// Result captures the outcome of replaying one case.
type Result struct {
	RunID     string
	Status    string
	Reason    string
	Expected  *simulator.CoincidencePeaks
	Replayed  simulator.CoincidencePeaks
	Entangled bool
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int
	Matches    int
	Mismatches int
	Skipped    int
}
// #endregion types

// #region cases
// FromRuns turns stored runs into cases that expect the stored peaks and verdict.
func FromRuns(runs []runlog.RunRecord) []Case {
	cases := make([]Case, len(runs))
	for i, r := range runs {
		peaks := r.Peaks
		entangled := r.Entangled
		cases[i] = Case{
			RunID:      r.RunID,
			Source:     r.Source,
			Angles:     r.Angles,
			Seed:       r.Seed,
			Policy:     r.Policy,
			ConfigJSON: r.ConfigJSON,
			Peaks:      &peaks,
			Entangled:  &entangled,
		}
	}
	return cases
}
// #endregion cases

// #region replay
// Replay re-simulates every simulated run with its stored seed and config.
// Runs served by the bridge or the zero fallback are skipped. base is used for
// runs that carry no config snapshot.
func Replay(runs []runlog.RunRecord, base simulator.Config) []Result {
	return ReplayCases(FromRuns(runs), base)
}

// ReplayCases replays arbitrary cases. Emulated latency is always disabled.
func ReplayCases(cases []Case, base simulator.Config) []Result {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		results = append(results, replayOne(c, base))
	}
	return results
}

func replayOne(c Case, base simulator.Config) Result {
	res := Result{RunID: c.RunID, Expected: c.Peaks}
	if c.Source != "" && c.Source != runlog.SourceSimulation {
		res.Status = StatusSkipped
		res.Reason = "source " + c.Source + " is not reproducible"
		return res
	}

	cfg, err := caseConfig(c, base)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}
	sim, err := simulator.New(cfg)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}
	out, err := sim.Run(context.Background(), simulator.NewSource(c.Seed), c.Angles)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = err.Error()
		return res
	}
	res.Replayed = out.Peaks
	res.Entangled = out.Entangled

	switch {
	case c.Peaks != nil && *c.Peaks != out.Peaks:
		res.Status = StatusMismatch
		res.Reason = fmt.Sprintf("peaks: recorded %v, replayed %v", *c.Peaks, out.Peaks)
	case c.Entangled != nil && *c.Entangled != out.Entangled:
		res.Status = StatusMismatch
		res.Reason = fmt.Sprintf("entangled: recorded %v, replayed %v", *c.Entangled, out.Entangled)
	default:
		res.Status = StatusMatch
	}
	return res
}

func caseConfig(c Case, base simulator.Config) (simulator.Config, error) {
	cfg := base
	if c.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(c.ConfigJSON), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config snapshot: %w", err)
		}
	} else if c.Policy != "" {
		policy, err := simulator.ParsePolicy(c.Policy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = policy
	}
	cfg.Latency = 0
	return cfg, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusMatch:
			s.Matches++
		case StatusMismatch:
			s.Mismatches++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
// #endregion replay
