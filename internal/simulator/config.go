package simulator

import (
	"fmt"
	"time"
)

// #region config
// Config holds every tunable of the simulator. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Target    AngleTriple       // entanglement sweet spot
	Policy    MatchPolicy
	Groups    [2][2]ChannelPair // group one, group two
	PairOrder [4]ChannelPair    // output position -> pair; a permutation of Groups

	HighMin, HighMax   int // entangled high band
	LowMin, LowMax     int // entangled low band
	NoiseMin, NoiseMax int // uncorrelated range

	BaseNoise          float64 // continuous: floor added to every count
	MaxCount           float64 // continuous: count at full strength
	Jitter             float64 // continuous: +/- bound of uniform jitter
	MaxDistance        float64 // continuous: distance mapped to zero strength
	PatternAngle       int     // continuous: index of the angle that picks the pattern
	EntangledThreshold float64 // continuous: strength at which the outcome is flagged entangled

	Latency time.Duration // emulated measurement time; 0 disables it
}

// DefaultConfig returns the exact-match configuration with target (45, 90, 135).
func DefaultConfig() Config {
	order := DefaultPairOrder()
	return Config{
		Target:    AngleTriple{45, 90, 135},
		Policy:    PolicyExact,
		Groups:    [2][2]ChannelPair{{order[0], order[1]}, {order[2], order[3]}},
		PairOrder: order,

		HighMin:  650,
		HighMax:  900,
		LowMin:   10,
		LowMax:   50,
		NoiseMin: 100,
		NoiseMax: 150000,

		BaseNoise:          10,
		MaxCount:           900,
		Jitter:             25,
		MaxDistance:        540,
		PatternAngle:       2,
		EntangledThreshold: 0.9,

		Latency: 11 * time.Second,
	}
}
// #endregion config

// #region validate
// Validate checks band ordering, the pair permutation, and continuous parameters.
func (c Config) Validate() error {
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if _, err := NewAngleTriple(c.Target.Slice()); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	bands := []struct {
		name     string
		min, max int
	}{
		{"high", c.HighMin, c.HighMax},
		{"low", c.LowMin, c.LowMax},
		{"noise", c.NoiseMin, c.NoiseMax},
	}
	for _, b := range bands {
		if b.min < 0 || b.max < b.min {
			return fmt.Errorf("%s band [%d, %d] is invalid", b.name, b.min, b.max)
		}
	}
	if c.LowMax >= c.HighMin {
		return fmt.Errorf("low band [%d, %d] overlaps high band [%d, %d]", c.LowMin, c.LowMax, c.HighMin, c.HighMax)
	}
	if c.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %v", c.MaxDistance)
	}
	if c.MaxCount < 0 || c.BaseNoise < 0 || c.Jitter < 0 {
		return fmt.Errorf("continuous parameters must be non-negative")
	}
	if c.PatternAngle < 0 || c.PatternAngle > 2 {
		return fmt.Errorf("pattern angle index %d out of range", c.PatternAngle)
	}
	if c.Latency < 0 {
		return fmt.Errorf("latency must not be negative")
	}
	return c.checkPairOrder()
}

func (c Config) checkPairOrder() error {
	seen := make(map[ChannelPair]bool, 4)
	for _, g := range c.Groups {
		for _, p := range g {
			if seen[p] {
				return fmt.Errorf("channel pair %s listed twice", p)
			}
			seen[p] = true
		}
	}
	for _, p := range c.PairOrder {
		if !seen[p] {
			return fmt.Errorf("pair order: %s is not a grouped pair or appears twice", p)
		}
		delete(seen, p)
	}
	return nil
}
// #endregion validate

// #region group-lookup
// GroupOf returns 0 for group one and 1 for group two.
func (c Config) GroupOf(p ChannelPair) int {
	if p == c.Groups[1][0] || p == c.Groups[1][1] {
		return 1
	}
	return 0
}
// #endregion group-lookup
