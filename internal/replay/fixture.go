package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region fixture-types
// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string       `json:"description"`
	Runs        []FixtureRun `json:"runs"`
}

// FixtureRun is one recorded measurement. Peaks and Entangled are optional.
type FixtureRun struct {
	RunID     string     `json:"run_id"`
	Angles    [3]float64 `json:"angles"`
	Seed      uint64     `json:"seed"`
	Policy    string     `json:"policy,omitempty"`
	Config    string     `json:"config,omitempty"`
	Peaks     []int      `json:"peaks,omitempty"`
	Entangled *bool      `json:"entangled,omitempty"`
}
// #endregion fixture-types

// #region fixture-loader
// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// Cases converts fixture runs into replay cases.
func (f *Fixture) Cases() ([]Case, error) {
	cases := make([]Case, len(f.Runs))
	for i, r := range f.Runs {
		angles, err := simulator.NewAngleTriple(r.Angles[:])
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		c := Case{
			RunID:      r.RunID,
			Source:     runlog.SourceSimulation,
			Angles:     angles,
			Seed:       r.Seed,
			Policy:     r.Policy,
			ConfigJSON: r.Config,
			Entangled:  r.Entangled,
		}
		if r.Peaks != nil {
			peaks, err := peaksFrom(r.Peaks)
			if err != nil {
				return nil, fmt.Errorf("run %s: %w", r.RunID, err)
			}
			c.Peaks = &peaks
		}
		cases[i] = c
	}
	return cases, nil
}

// NewFixture exports simulated runs, with their peaks, as a fixture.
func NewFixture(description string, runs []runlog.RunRecord) *Fixture {
	f := &Fixture{Description: description}
	for _, r := range runs {
		if r.Source != runlog.SourceSimulation {
			continue
		}
		entangled := r.Entangled
		f.Runs = append(f.Runs, FixtureRun{
			RunID:     r.RunID,
			Angles:    r.Angles,
			Seed:      r.Seed,
			Policy:    r.Policy,
			Config:    r.ConfigJSON,
			Peaks:     r.Peaks.Slice(),
			Entangled: &entangled,
		})
	}
	return f
}

func peaksFrom(values []int) (simulator.CoincidencePeaks, error) {
	var p simulator.CoincidencePeaks
	if len(values) != len(p) {
		return p, fmt.Errorf("expected 4 peaks, got %d", len(values))
	}
	copy(p[:], values)
	return p, nil
}
// #endregion fixture-loader
