// Package dispatch routes each measurement to the simulator or the hardware
// bridge according to the configuration passed in with the request.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polarlab/coincidence-rig/internal/classify"
	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/logging"
	"github.com/polarlab/coincidence-rig/internal/observability"
	"github.com/polarlab/coincidence-rig/internal/remote"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region constants
const maxRetries = 5 // hard cap regardless of config: 6 total attempts
// #endregion constants

// #region dispatcher-struct
// Dispatcher holds the collaborators of a measurement. It keeps no mode of its
// own; every call receives the configuration to act on.
type Dispatcher struct {
	newBridge BridgeFactory
	store     *runlog.Store
	metrics   *observability.Metrics
	logger    *slog.Logger
	seed      func() uint64
	simOpts   []simulator.Option
	trigger   string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithStore records every served run and its provenance in s.
func WithStore(s *runlog.Store) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithMetrics counts measurements in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSeed replaces the per-run seed source.
func WithSeed(fn func() uint64) Option {
	return func(d *Dispatcher) { d.seed = fn }
}

// WithBridgeFactory replaces how bridge clients are built.
func WithBridgeFactory(f BridgeFactory) Option {
	return func(d *Dispatcher) { d.newBridge = f }
}

// WithSimulatorOptions passes options to every simulator the dispatcher builds.
func WithSimulatorOptions(opts ...simulator.Option) Option {
	return func(d *Dispatcher) { d.simOpts = opts }
}

// WithTrigger names the entry point recorded in provenance (stdin, http, socket, cli).
func WithTrigger(trigger string) Option {
	return func(d *Dispatcher) { d.trigger = trigger }
}

// New creates a Dispatcher. Without options it simulates, talks to real
// bridges over HTTP, and records nothing.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		newBridge: func(url string, timeout time.Duration) Bridge {
			return remote.New(url, timeout)
		},
		logger:  slog.Default(),
		trigger: "cli",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}
// #endregion dispatcher-struct

// #region dispatch
// Dispatch measures angles according to settings:
//
//   - hardware with a bridge URL: call the bridge, retrying settings.Retries times;
//     on failure return zero peaks when FallbackZeros is set, else the error;
//   - hardware without a bridge URL, or simulation: run the simulator.
//
// Invalid angles fail with simulator.ErrInvalidInput before any backend is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, settings config.Config, angles simulator.AngleTriple) (Result, error) {
	if _, err := simulator.NewAngleTriple(angles.Slice()); err != nil {
		return Result{}, err
	}
	simCfg, err := settings.SimulatorConfig()
	if err != nil {
		return Result{}, fmt.Errorf("simulator config: %w", err)
	}

	start := time.Now()
	res := Result{Angles: angles, Mode: settings.Mode()}

	switch {
	case settings.UseRealHardware && settings.BridgeURL != "":
		err = d.viaBridge(ctx, settings, angles, &res)
	case settings.UseRealHardware:
		d.logger.Warn("hardware requested without bridge url, simulating", "angles", angles.Slice())
		res.Reason = ErrNoBridge.Error()
		err = d.viaSimulator(ctx, simCfg, angles, &res)
	default:
		err = d.viaSimulator(ctx, simCfg, angles, &res)
	}
	res.Duration = time.Since(start)

	if err != nil {
		d.logDecision(logging.ProvenanceEntry{
			TriggerType: d.trigger,
			Mode:        string(res.Mode),
			Decision:    logging.DecisionError,
			Reason:      err.Error(),
			Attempts:    res.Attempts,
		})
		return Result{}, err
	}

	res.Verdict = classify.NewClassifier(classify.DefaultConfig(), simCfg).Evaluate(res.Peaks)
	if res.Source != runlog.SourceSimulation {
		res.Entangled = res.Verdict.Entangled
		res.Pattern = res.Verdict.Pattern
	}

	d.record(&res)
	d.metrics.ObserveMeasurement(string(res.Mode), res.Source, res.Duration)
	return res, nil
}
// #endregion dispatch

// #region backends
func (d *Dispatcher) viaSimulator(ctx context.Context, cfg simulator.Config, angles simulator.AngleTriple, res *Result) error {
	sim, err := simulator.New(cfg, d.simOpts...)
	if err != nil {
		return err
	}
	var rig Measurer = NewSimulatedRig(sim, d.seed)
	m, err := rig.Measure(ctx, angles)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	res.Measurement = m
	res.Decision = logging.DecisionSimulate
	res.Attempts = 1
	return nil
}

func (d *Dispatcher) viaBridge(ctx context.Context, settings config.Config, angles simulator.AngleTriple, res *Result) error {
	var rig Measurer = BridgeRig{Bridge: d.newBridge(settings.BridgeURL, settings.BridgeTimeout)}
	retries := min(max(settings.Retries, 0), maxRetries)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts = attempt + 1
		m, err := rig.Measure(ctx, angles)
		d.metrics.BridgeAttempt(err)
		if err == nil {
			res.Measurement = m
			res.Decision = logging.DecisionBridge
			return nil
		}
		lastErr = err
		d.logger.Warn("bridge call failed", "attempt", res.Attempts, "url", settings.BridgeURL, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	if !settings.FallbackZeros || errors.Is(lastErr, context.Canceled) {
		return lastErr
	}
	d.logger.Warn("bridge unavailable, returning zero peaks", "attempts", res.Attempts)
	res.Measurement = Measurement{Source: runlog.SourceFallback}
	res.Decision = logging.DecisionFallback
	res.Reason = lastErr.Error()
	return nil
}
// #endregion backends

// #region record
func (d *Dispatcher) record(res *Result) {
	if d.store == nil {
		return
	}
	rec, err := d.store.RecordRun(runlog.RunRecord{
		Angles:     res.Angles,
		Peaks:      res.Peaks,
		Source:     res.Source,
		Policy:     res.Policy,
		Seed:       res.Seed,
		Entangled:  res.Entangled,
		Pattern:    res.Pattern,
		ConfigJSON: res.ConfigJSON,
	})
	if err != nil {
		d.logger.Error("record run", "error", err)
		return
	}
	res.RunID = rec.RunID
	d.logDecision(logging.ProvenanceEntry{
		RunID:       rec.RunID,
		TriggerType: d.trigger,
		Mode:        string(res.Mode),
		Decision:    res.Decision,
		Reason:      res.Reason,
		Attempts:    res.Attempts,
	})
}

func (d *Dispatcher) logDecision(entry logging.ProvenanceEntry) {
	if d.store == nil {
		return
	}
	if err := logging.LogDecision(d.store.DB(), entry); err != nil {
		d.logger.Error("log decision", "error", err)
	}
}
// #endregion record
