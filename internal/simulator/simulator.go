// Package simulator produces synthetic coincidence peaks for the polarization rig
// when no hardware is attached. Output shape (banded vs. uncorrelated) is a
// deterministic function of the angles; magnitudes come from an injected Source.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// #region source
// Source is the randomness used by one simulation. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// NewSource returns a deterministic PCG-backed source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
// #endregion source

// #region simulator
// Simulator maps angle triples to coincidence peaks. It holds no mutable state;
// every call draws only from the Source it is given.
type Simulator struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithSleep replaces the latency sleep, e.g. with a no-op in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Simulator) { s.sleep = fn }
}

// New validates cfg and returns a Simulator.
func New(cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("simulator config: %w", err)
	}
	s := &Simulator{cfg: cfg, sleep: sleepCtx}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns a copy of the active configuration.
func (s *Simulator) Config() Config {
	return s.cfg
}
// #endregion simulator

// #region simulate
// Simulate is the bare contract: three angles in, four peaks out. It never sleeps.
func (s *Simulator) Simulate(src Source, values []float64) (CoincidencePeaks, error) {
	angles, err := NewAngleTriple(values)
	if err != nil {
		return CoincidencePeaks{}, err
	}
	out, err := s.compute(src, angles)
	if err != nil {
		return CoincidencePeaks{}, err
	}
	return out.Peaks, nil
}

// Run computes a full Outcome and then waits out the configured latency.
// A cancelled context aborts the wait and returns ctx.Err().
func (s *Simulator) Run(ctx context.Context, src Source, angles AngleTriple) (Outcome, error) {
	if _, err := NewAngleTriple(angles.Slice()); err != nil {
		return Outcome{}, err
	}
	out, err := s.compute(src, angles)
	if err != nil {
		return Outcome{}, err
	}
	if s.cfg.Latency > 0 {
		if err := s.sleep(ctx, s.cfg.Latency); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

func (s *Simulator) compute(src Source, a AngleTriple) (Outcome, error) {
	if src == nil {
		return Outcome{}, errors.New("simulator: nil source")
	}
	out := Outcome{Angles: a, Pairs: s.cfg.PairOrder}
	switch s.cfg.Policy {
	case PolicyContinuous:
		s.continuous(src, a, &out)
	case PolicyCorrelated:
		s.correlated(src, a, &out)
	default:
		s.exact(src, a, &out)
	}
	return out, nil
}
// #endregion simulate

// #region exact
func (s *Simulator) exact(src Source, a AngleTriple, out *Outcome) {
	for i := range a {
		if math.Trunc(a[i]) != math.Trunc(s.cfg.Target[i]) {
			s.uncorrelated(src, out)
			return
		}
	}
	s.banded(src, out)
	out.Strength = 1
}

// banded drives one group into the high band and the other into the low band,
// picking the pattern uniformly.
func (s *Simulator) banded(src Source, out *Outcome) {
	out.Entangled = true
	out.Pattern = PatternOne
	if src.IntN(2) == 1 {
		out.Pattern = PatternTwo
	}
	highGroup := 0
	if out.Pattern == PatternTwo {
		highGroup = 1
	}
	for i, p := range s.cfg.PairOrder {
		if s.cfg.GroupOf(p) == highGroup {
			out.Peaks[i] = uniformInt(src, s.cfg.HighMin, s.cfg.HighMax)
		} else {
			out.Peaks[i] = uniformInt(src, s.cfg.LowMin, s.cfg.LowMax)
		}
	}
}

func (s *Simulator) uncorrelated(src Source, out *Outcome) {
	out.Entangled = false
	out.Pattern = PatternNone
	for i := range out.Peaks {
		out.Peaks[i] = uniformInt(src, s.cfg.NoiseMin, s.cfg.NoiseMax)
	}
}
// #endregion exact

// #region continuous
// continuous scales the maximized group by strength and the other by its inverse.
func (s *Simulator) continuous(src Source, a AngleTriple, out *Outcome) {
	strength := s.Strength(a)
	out.Strength = strength
	out.Entangled = strength >= s.cfg.EntangledThreshold
	out.Pattern = patternFor(a[s.cfg.PatternAngle])

	maxGroup := 0
	if out.Pattern == PatternTwo {
		maxGroup = 1
	}
	for i, p := range s.cfg.PairOrder {
		weight := 1 - strength
		if s.cfg.GroupOf(p) == maxGroup {
			weight = strength
		}
		jitter := (2*src.Float64() - 1) * s.cfg.Jitter
		out.Peaks[i] = nonNegative(s.cfg.BaseNoise + weight*s.cfg.MaxCount + jitter)
	}
}

// Strength is 1 at the target and falls linearly to 0 at MaxDistance of summed
// absolute angular error.
func (s *Simulator) Strength(a AngleTriple) float64 {
	var dist float64
	for i := range a {
		dist += math.Abs(a[i] - s.cfg.Target[i])
	}
	return 1 - clamp(dist/s.cfg.MaxDistance, 0, 1)
}

func patternFor(angle float64) Pattern {
	m := math.Mod(angle, 180)
	if m < 0 {
		m += 180
	}
	if m < 90 {
		return PatternOne
	}
	return PatternTwo
}
// #endregion continuous

// #region correlated
// correlated enters the banded branch with probability cos²(θ1-θ2); otherwise
// each count follows a smooth function of the angles plus small jitter.
func (s *Simulator) correlated(src Source, a AngleTriple, out *Outcome) {
	t1, t2, t3 := radians(a[0]), radians(a[1]), radians(a[2])
	p := math.Pow(math.Cos(t1-t2), 2)
	out.Strength = p
	if src.Float64() < p {
		s.banded(src, out)
		return
	}
	out.Entangled = false
	out.Pattern = PatternNone
	base := [4]float64{
		0.5 + 0.3*math.Cos(2*t1),
		0.5 + 0.3*math.Cos(2*t2),
		0.5 + 0.3*math.Sin(t1+t2),
		0.5 + 0.3*math.Sin(t1-t3),
	}
	for i, v := range base {
		v += (2*src.Float64() - 1) * 0.1
		out.Peaks[i] = nonNegative(clamp(v, 0, 1) * float64(s.cfg.HighMax))
	}
}
// #endregion correlated

// #region helpers
func uniformInt(src Source, min, max int) int {
	return min + src.IntN(max-min+1)
}

func nonNegative(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Round(v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
// #endregion helpers
