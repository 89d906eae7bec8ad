package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// simulatedRuns produces n runs the way the dispatcher records them.
func simulatedRuns(t *testing.T, cfg simulator.Config, n int) []runlog.RunRecord {
	t.Helper()
	cfg.Latency = 0
	sim, err := simulator.New(cfg)
	if err != nil {
		t.Fatalf("simulator.New: %v", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	angles := []simulator.AngleTriple{{45, 90, 135}, {10, 20, 30}, {45.5, 90, 135}, {0, 0, 0}, {170, 1, 99}}
	runs := make([]runlog.RunRecord, n)
	for i := range runs {
		seed := uint64(1000 + i)
		a := angles[i%len(angles)]
		out, err := sim.Run(context.Background(), simulator.NewSource(seed), a)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		runs[i] = runlog.RunRecord{
			RunID:      fmt.Sprintf("run-%d", i),
			Angles:     a,
			Peaks:      out.Peaks,
			Source:     runlog.SourceSimulation,
			Policy:     string(cfg.Policy),
			Seed:       seed,
			Entangled:  out.Entangled,
			Pattern:    out.Pattern,
			ConfigJSON: string(raw),
		}
	}
	return runs
}

func TestReplay_AllPoliciesReproduce(t *testing.T) {
	for _, policy := range []simulator.MatchPolicy{simulator.PolicyExact, simulator.PolicyContinuous, simulator.PolicyCorrelated} {
		t.Run(string(policy), func(t *testing.T) {
			cfg := simulator.DefaultConfig()
			cfg.Policy = policy
			runs := simulatedRuns(t, cfg, 10)

			s := Summarize(Replay(runs, simulator.DefaultConfig()))
			if s.Total != 10 || s.Matches != 10 {
				t.Fatalf("expected 10 matches, got %+v", s)
			}
		})
	}
}

func TestReplay_DetectsTamperedPeaks(t *testing.T) {
	runs := simulatedRuns(t, simulator.DefaultConfig(), 3)
	runs[1].Peaks[2]++

	results := Replay(runs, simulator.DefaultConfig())
	if results[1].Status != StatusMismatch {
		t.Fatalf("expected mismatch, got %s", results[1].Status)
	}
	if results[0].Status != StatusMatch || results[2].Status != StatusMatch {
		t.Fatal("untouched runs should match")
	}
}

func TestReplay_DetectsWrongSeed(t *testing.T) {
	runs := simulatedRuns(t, simulator.DefaultConfig(), 1)
	runs[0].Seed++
	results := Replay(runs, simulator.DefaultConfig())
	if results[0].Status != StatusMismatch {
		t.Fatalf("expected mismatch for a different seed, got %s", results[0].Status)
	}
}

func TestReplay_SkipsNonSimulatedRuns(t *testing.T) {
	runs := []runlog.RunRecord{
		{RunID: "b", Source: runlog.SourceBridge, Peaks: simulator.CoincidencePeaks{1, 2, 3, 4}},
		{RunID: "f", Source: runlog.SourceFallback},
	}
	s := Summarize(Replay(runs, simulator.DefaultConfig()))
	if s.Skipped != 2 || s.Matches != 0 {
		t.Fatalf("expected 2 skipped, got %+v", s)
	}
}

func TestReplay_BadSnapshotSkipped(t *testing.T) {
	runs := simulatedRuns(t, simulator.DefaultConfig(), 1)
	runs[0].ConfigJSON = "{broken"
	results := Replay(runs, simulator.DefaultConfig())
	if results[0].Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", results[0].Status)
	}
}

func TestReplay_PolicyWithoutSnapshot(t *testing.T) {
	cfg := simulator.DefaultConfig()
	cfg.Policy = simulator.PolicyContinuous
	runs := simulatedRuns(t, cfg, 4)
	for i := range runs {
		runs[i].ConfigJSON = ""
	}
	s := Summarize(Replay(runs, simulator.DefaultConfig()))
	if s.Matches != 4 {
		t.Fatalf("expected policy column to select continuous, got %+v", s)
	}
}

func TestReplay_FromStore(t *testing.T) {
	store, err := runlog.NewStore(filepath.Join(t.TempDir(), "rig.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	for _, r := range simulatedRuns(t, simulator.DefaultConfig(), 6) {
		r.RunID = ""
		if _, err := store.RecordRun(r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	runs, err := store.ListRuns(100)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}

	s := Summarize(Replay(runs, simulator.DefaultConfig()))
	if s.Total != 6 || s.Matches != 6 {
		t.Fatalf("expected 6 matches after a database round trip, got %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{Status: StatusMatch}, {Status: StatusMatch}, {Status: StatusMismatch}, {Status: StatusSkipped},
	})
	if s.Total != 4 || s.Matches != 2 || s.Mismatches != 1 || s.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
