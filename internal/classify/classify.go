// Package classify derives an entangled / not-entangled verdict from four
// coincidence peaks, whether they came from the simulator or from hardware.
package classify

import (
	"fmt"
	"math"
	"strings"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region classifier
// Classifier evaluates peaks laid out according to a simulator pair order.
type Classifier struct {
	config Config
	layout simulator.Config
}

// NewClassifier creates a classifier; layout supplies Groups and PairOrder.
func NewClassifier(config Config, layout simulator.Config) *Classifier {
	return &Classifier{config: config, layout: layout}
}

// Evaluate runs the signal, separation, and visibility checks in that order.
// A result is entangled only when all three pass.
func (c *Classifier) Evaluate(peaks simulator.CoincidencePeaks) Verdict {
	var total int
	for _, p := range peaks {
		total += p
	}
	if total < c.config.MinSignal {
		return Verdict{
			Checks: []Check{{Name: "signal", Value: float64(total), Pass: false}},
			Reason: fmt.Sprintf("no signal: total counts %d below %d", total, c.config.MinSignal),
		}
	}

	var groups [2][]int
	for i, pair := range c.layout.PairOrder {
		g := c.layout.GroupOf(pair)
		groups[g] = append(groups[g], peaks[i])
	}
	hi, lo := 0, 1
	if mean(groups[1]) > mean(groups[0]) {
		hi, lo = 1, 0
	}
	meanHi, meanLo := mean(groups[hi]), mean(groups[lo])

	separated := minOf(groups[hi]) > maxOf(groups[lo])
	visibility := 0.0
	if meanHi+meanLo > 0 {
		visibility = (meanHi - meanLo) / (meanHi + meanLo)
	}

	checks := []Check{
		{Name: "signal", Value: float64(total), Pass: true},
		{Name: "separation", Value: float64(minOf(groups[hi]) - maxOf(groups[lo])), Pass: separated},
		{Name: "visibility", Value: visibility, Pass: visibility >= c.config.MinVisibility},
	}

	v := Verdict{Visibility: visibility, Checks: checks, Entangled: true}
	var failed []string
	for _, ch := range checks {
		if !ch.Pass {
			v.Entangled = false
			failed = append(failed, fmt.Sprintf("%s=%.4f", ch.Name, ch.Value))
		}
	}
	if !v.Entangled {
		v.Reason = "not entangled: " + strings.Join(failed, ", ")
		return v
	}
	v.Pattern = simulator.PatternOne
	if hi == 1 {
		v.Pattern = simulator.PatternTwo
	}
	v.Reason = fmt.Sprintf("entangled: visibility=%.4f", visibility)
	return v
}
// #endregion classifier

// #region helpers
func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func minOf(xs []int) int {
	m := math.MaxInt
	for _, x := range xs {
		m = min(m, x)
	}
	return m
}

func maxOf(xs []int) int {
	m := math.MinInt
	for _, x := range xs {
		m = max(m, x)
	}
	return m
}
// #endregion helpers
