package simulator

import (
	"errors"
	"fmt"
	"math"
)

// #region errors
// ErrInvalidInput is returned when the caller does not supply exactly three finite angles.
var ErrInvalidInput = errors.New("invalid input")
// #endregion errors

// #region angle-triple
// AngleTriple holds the three paddle angles in degrees.
type AngleTriple [3]float64

// NewAngleTriple validates raw values and packs them into an AngleTriple.
func NewAngleTriple(values []float64) (AngleTriple, error) {
	var a AngleTriple
	if len(values) != len(a) {
		return a, fmt.Errorf("%w: expected 3 angles, got %d", ErrInvalidInput, len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return a, fmt.Errorf("%w: angle %d is not finite", ErrInvalidInput, i)
		}
		a[i] = v
	}
	return a, nil
}

// Slice returns the angles as a slice, for JSON encoding.
func (a AngleTriple) Slice() []float64 {
	return []float64{a[0], a[1], a[2]}
}
// #endregion angle-triple

// #region peaks
// CoincidencePeaks is the ordered 4-tuple of coincidence counts.
// Consumers index it by position.
type CoincidencePeaks [4]int

// Slice returns the peaks as a slice, for JSON encoding.
func (p CoincidencePeaks) Slice() []int {
	return []int{p[0], p[1], p[2], p[3]}
}

// IsZero reports whether every count is zero.
func (p CoincidencePeaks) IsZero() bool {
	return p == CoincidencePeaks{}
}
// #endregion peaks

// #region channel-pair
// ChannelPair names two detector inputs whose joint count is measured.
type ChannelPair struct {
	A int `json:"a" yaml:"a"`
	B int `json:"b" yaml:"b"`
}

func (c ChannelPair) String() string {
	return fmt.Sprintf("%d-%d", c.A, c.B)
}

// DefaultPairOrder is the hardware order of the rig: (5,7) (6,8) (5,8) (6,7).
// The first two pairs form group one, the last two group two.
func DefaultPairOrder() [4]ChannelPair {
	return [4]ChannelPair{{5, 7}, {6, 8}, {5, 8}, {6, 7}}
}
// #endregion channel-pair

// #region policy
// MatchPolicy selects how the simulator decides between entangled and uncorrelated output.
type MatchPolicy string

const (
	PolicyExact      MatchPolicy = "exact"
	PolicyContinuous MatchPolicy = "continuous"
	PolicyCorrelated MatchPolicy = "correlated"
)

// ParsePolicy maps a config string onto a MatchPolicy. Empty means exact.
func ParsePolicy(s string) (MatchPolicy, error) {
	switch MatchPolicy(s) {
	case "", PolicyExact:
		return PolicyExact, nil
	case PolicyContinuous:
		return PolicyContinuous, nil
	case PolicyCorrelated:
		return PolicyCorrelated, nil
	}
	return "", fmt.Errorf("unknown match policy %q", s)
}
// #endregion policy

// #region outcome
// Pattern identifies which channel group was driven high.
type Pattern int

const (
	PatternNone Pattern = iota // no forced banding
	PatternOne                 // group one high, group two low
	PatternTwo                 // group one low, group two high
)

// Outcome is a simulated measurement plus diagnostic classification.
type Outcome struct {
	Angles    AngleTriple
	Peaks     CoincidencePeaks
	Pairs     [4]ChannelPair
	Entangled bool
	Pattern   Pattern
	Strength  float64 // continuous policy only; 1 for an exact hit
}
// #endregion outcome
