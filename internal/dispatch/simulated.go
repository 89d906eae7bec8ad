package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region simulated-rig
var (
	_ Measurer = (*SimulatedRig)(nil)
	_ Measurer = BridgeRig{}
)

// SimulatedRig is a Measurer backed by the simulator. Each call draws a fresh
// seed and reports it so the run can be reproduced.
type SimulatedRig struct {
	sim  *simulator.Simulator
	seed func() uint64
}

// NewSimulatedRig wraps sim. A nil seed function uses math/rand/v2's global source.
func NewSimulatedRig(sim *simulator.Simulator, seed func() uint64) *SimulatedRig {
	if seed == nil {
		seed = rand.Uint64
	}
	return &SimulatedRig{sim: sim, seed: seed}
}

// Measure runs the simulator, including its emulated latency.
func (r *SimulatedRig) Measure(ctx context.Context, angles simulator.AngleTriple) (Measurement, error) {
	seed := r.seed()
	out, err := r.sim.Run(ctx, simulator.NewSource(seed), angles)
	if err != nil {
		return Measurement{}, err
	}
	cfg := r.sim.Config()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Measurement{}, fmt.Errorf("marshal simulator config: %w", err)
	}
	return Measurement{
		Peaks:      out.Peaks,
		Source:     runlog.SourceSimulation,
		Seed:       seed,
		Policy:     string(cfg.Policy),
		ConfigJSON: string(raw),
		Entangled:  out.Entangled,
		Pattern:    out.Pattern,
	}, nil
}
// #endregion simulated-rig

// #region bridge-rig
// BridgeRig is a Measurer backed by a remote hardware bridge. The bridge
// reports peaks only; seed and config stay empty.
type BridgeRig struct {
	Bridge Bridge
}

// Measure asks the bridge for one measurement.
func (r BridgeRig) Measure(ctx context.Context, angles simulator.AngleTriple) (Measurement, error) {
	peaks, err := r.Bridge.Execute(ctx, angles)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Peaks: peaks, Source: runlog.SourceBridge}, nil
}
// #endregion bridge-rig
