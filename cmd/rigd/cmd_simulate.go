package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/dispatch"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

var (
	simulateSeed    uint64        // used only when --seed is given
	simulatePolicy  string        // overrides the configured match policy
	simulateLatency time.Duration // negative keeps the configured latency
	simulateRecord  bool          // store the run in the configured database
	simulateVerbose bool          // print the full result instead of the wire line
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <angle> <angle> <angle>",
	Short: "Run one measurement and print the entanglement line",
	Args:  cobra.ExactArgs(3),
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "random seed (omit for a fresh one)")
	simulateCmd.Flags().StringVar(&simulatePolicy, "policy", "", "match policy: exact, continuous, correlated")
	simulateCmd.Flags().DurationVar(&simulateLatency, "latency", -1, "emulated measurement time (negative = from config)")
	simulateCmd.Flags().BoolVar(&simulateRecord, "record", false, "record the run in the database")
	simulateCmd.Flags().BoolVar(&simulateVerbose, "verbose", false, "print the classified result")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applySimulateFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("angle %d: %w", i, err)
		}
		values[i] = v
	}
	req := wire.KnobRequest{KnobValues: values}
	angles, err := req.Angles()
	if err != nil {
		return err
	}

	opts := []dispatch.Option{dispatch.WithLogger(logger), dispatch.WithTrigger("cli")}
	if cmd.Flags().Changed("seed") {
		seed := simulateSeed
		opts = append(opts, dispatch.WithSeed(func() uint64 { return seed }))
	}
	if simulateRecord {
		store, err := runlog.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		opts = append(opts, dispatch.WithStore(store))
	}

	res, err := dispatch.New(opts...).Dispatch(cmd.Context(), cfg, angles)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if simulateVerbose {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	line, err := wire.EncodeEntanglement(res.Peaks)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", line)
	return err
}

func applySimulateFlags(cfg *config.Config) {
	if simulatePolicy != "" {
		cfg.Simulation.Policy = simulatePolicy
	}
	if simulateLatency >= 0 {
		cfg.Simulation.Latency = simulateLatency
	}
}
