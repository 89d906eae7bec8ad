package bridge

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region hardware
// ErrUnavailable is returned by hardware that cannot take measurements.
var ErrUnavailable = errors.New("hardware not available")

// Hardware is the device behind the bridge.
type Hardware interface {
	Available(ctx context.Context) bool
	DeviceID() string
	Execute(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error)
}
// #endregion hardware

// #region unavailable
// Unavailable is the hardware of a bridge with no device attached.
type Unavailable struct{}

func (Unavailable) Available(context.Context) bool { return false }
func (Unavailable) DeviceID() string               { return "" }

func (Unavailable) Execute(context.Context, simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
	return simulator.CoincidencePeaks{}, ErrUnavailable
}
// #endregion unavailable

// #region simulated
// Simulated answers bridge requests from the simulator, for running the full
// bridge path without a device.
type Simulated struct {
	sim  *simulator.Simulator
	seed func() uint64
	id   string
}

// NewSimulated wraps sim. A nil seed function uses math/rand/v2's global source.
func NewSimulated(sim *simulator.Simulator, id string, seed func() uint64) *Simulated {
	if seed == nil {
		seed = rand.Uint64
	}
	return &Simulated{sim: sim, seed: seed, id: id}
}

func (s *Simulated) Available(context.Context) bool { return true }
func (s *Simulated) DeviceID() string               { return s.id }

// Execute runs the simulator, latency included.
func (s *Simulated) Execute(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
	out, err := s.sim.Run(ctx, simulator.NewSource(s.seed()), angles)
	if err != nil {
		return simulator.CoincidencePeaks{}, err
	}
	return out.Peaks, nil
}
// #endregion simulated
