// Package config loads the rig's run configuration. A Config is a plain value:
// callers pass the current one into the dispatcher on every request instead of
// consulting process-wide state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region types
// Config is the full run configuration. Durations are written as strings
// ("130s", "500ms"); bare numbers are rejected by the file decoder.
type Config struct {
	UseRealHardware bool          `yaml:"useRealHardware" json:"useRealHardware"`
	BridgeURL       string        `yaml:"bridgeUrl" json:"bridgeUrl" validate:"omitempty,url"`
	BridgeTimeout   time.Duration `yaml:"bridgeTimeout" json:"bridgeTimeout" validate:"gt=0"`
	Retries         int           `yaml:"retries" json:"retries" validate:"gte=0,lte=5"`
	FallbackZeros   bool          `yaml:"fallbackZeros" json:"fallbackZeros"`
	DBPath          string        `yaml:"dbPath" json:"dbPath" validate:"required"`
	Simulation      Simulation    `yaml:"simulation" json:"simulation"`
}

// Simulation is the file/env view of simulator.Config.
type Simulation struct {
	Policy    string                  `yaml:"matchPolicy" json:"matchPolicy" validate:"oneof=exact continuous correlated"`
	Target    []float64               `yaml:"target" json:"target" validate:"len=3"`
	PairOrder []simulator.ChannelPair `yaml:"pairOrder" json:"pairOrder" validate:"omitempty,len=4"`
	Latency   time.Duration           `yaml:"latency" json:"latency" validate:"gte=0"`
}

// Mode names the measurement backend selected by UseRealHardware.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeHardware   Mode = "hardware"
)
// #endregion types

// #region defaults
// Default returns simulation mode with the default simulator settings.
func Default() Config {
	sim := simulator.DefaultConfig()
	return Config{
		BridgeTimeout: 130 * time.Second,
		Retries:       0,
		FallbackZeros: true,
		DBPath:        "rig.db",
		Simulation: Simulation{
			Policy:  string(sim.Policy),
			Target:  sim.Target.Slice(),
			Latency: sim.Latency,
		},
	}
}

// Mode reports the requested backend.
func (c Config) Mode() Mode {
	if c.UseRealHardware {
		return ModeHardware
	}
	return ModeSimulation
}
// #endregion defaults

// #region load
// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads defaults, then path (JSON or YAML; a missing file is not an error),
// then the process environment, and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	// JSON is a subset of YAML, so config.json parses here too.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
// #endregion load

// #region env
func applyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("USE_REAL_HARDWARE"); ok && v != "" {
		cfg.UseRealHardware = parseBool(v)
	}
	if v, ok := lookup("BRIDGE_URL"); ok {
		cfg.BridgeURL = strings.TrimSpace(v)
	}
	if v, ok := lookup("RIG_DB"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("RIG_MATCH_POLICY"); ok && v != "" {
		cfg.Simulation.Policy = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("RIG_FALLBACK_ZEROS"); ok && v != "" {
		cfg.FallbackZeros = parseBool(v)
	}
	if v, ok := lookup("RIG_LATENCY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RIG_LATENCY: %w", err)
		}
		cfg.Simulation.Latency = d
	}
	if v, ok := lookup("RIG_BRIDGE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RIG_BRIDGE_TIMEOUT: %w", err)
		}
		cfg.BridgeTimeout = d
	}
	if v, ok := lookup("RIG_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RIG_RETRIES: %w", err)
		}
		cfg.Retries = n
	}
	return nil
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}
// #endregion env

// #region validate
var validate = validator.New()

// minDuration catches durations given in nanoseconds by mistake.
const minDuration = time.Millisecond

// Validate checks struct tags and that the simulation section builds a valid simulator config.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.BridgeTimeout < minDuration {
		return fmt.Errorf("invalid config: bridgeTimeout %v is below %v; write durations like \"130s\"", c.BridgeTimeout, minDuration)
	}
	if l := c.Simulation.Latency; l != 0 && l < minDuration {
		return fmt.Errorf("invalid config: latency %v is below %v; write durations like \"11s\"", l, minDuration)
	}
	if _, err := c.SimulatorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SimulatorConfig overlays the simulation section onto simulator.DefaultConfig.
func (c Config) SimulatorConfig() (simulator.Config, error) {
	sc := simulator.DefaultConfig()
	policy, err := simulator.ParsePolicy(c.Simulation.Policy)
	if err != nil {
		return sc, err
	}
	sc.Policy = policy
	if len(c.Simulation.Target) > 0 {
		target, err := simulator.NewAngleTriple(c.Simulation.Target)
		if err != nil {
			return sc, fmt.Errorf("target: %w", err)
		}
		sc.Target = target
	}
	if len(c.Simulation.PairOrder) > 0 {
		if len(c.Simulation.PairOrder) != len(sc.PairOrder) {
			return sc, fmt.Errorf("pair order needs 4 pairs, got %d", len(c.Simulation.PairOrder))
		}
		copy(sc.PairOrder[:], c.Simulation.PairOrder)
	}
	sc.Latency = c.Simulation.Latency
	return sc, sc.Validate()
}
// #endregion validate
