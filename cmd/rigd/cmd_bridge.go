package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/polarlab/coincidence-rig/internal/bridge"
	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/health"
	"github.com/polarlab/coincidence-rig/internal/observability"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

var (
	bridgeAddr      string        // HTTP listen address
	bridgeGRPCAddr  string        // gRPC health listen address; empty disables it
	bridgeHardware  string        // "none" or "simulated"
	bridgeDeviceID  string        // reported device id for simulated hardware
	bridgeRate      float64       // execute requests per second; 0 is unlimited
	bridgeBurst     int           // limiter burst
	bridgeProbeTime time.Duration // health probe interval
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the hardware bridge HTTP API and gRPC health",
	RunE:  runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeAddr, "addr", ":5000", "HTTP listen address")
	bridgeCmd.Flags().StringVar(&bridgeGRPCAddr, "grpc-addr", ":50051", "gRPC health listen address (empty disables)")
	bridgeCmd.Flags().StringVar(&bridgeHardware, "hardware", "none", "hardware backend: none or simulated")
	bridgeCmd.Flags().StringVar(&bridgeDeviceID, "device-id", "sim-0", "device id reported by simulated hardware")
	bridgeCmd.Flags().Float64Var(&bridgeRate, "rate", 0, "execute requests per second (0 = unlimited)")
	bridgeCmd.Flags().IntVar(&bridgeBurst, "burst", 1, "rate limiter burst")
	bridgeCmd.Flags().DurationVar(&bridgeProbeTime, "probe-interval", 5*time.Second, "hardware health probe interval")
}

func runBridge(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hw, err := newHardware(bridgeHardware, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := bridge.NewServer(hw, bridge.Options{
		RatePerSecond: bridgeRate,
		Burst:         bridgeBurst,
		Gatherer:      reg,
		Metrics:       observability.New(reg),
		Logger:        logger,
	})

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return srv.Run(ctx, bridgeAddr) })
	if bridgeGRPCAddr != "" {
		reporter := health.NewReporter(hw.Available, logger)
		g.Go(func() error { return reporter.Run(ctx, bridgeProbeTime) })
		g.Go(func() error { return health.Serve(ctx, bridgeGRPCAddr, reporter) })
	}
	return g.Wait()
}

func newHardware(kind string, cfg config.Config) (bridge.Hardware, error) {
	switch kind {
	case "none", "":
		return bridge.Unavailable{}, nil
	case "simulated":
		simCfg, err := cfg.SimulatorConfig()
		if err != nil {
			return nil, err
		}
		sim, err := simulator.New(simCfg)
		if err != nil {
			return nil, err
		}
		return bridge.NewSimulated(sim, bridgeDeviceID, nil), nil
	}
	return nil, fmt.Errorf("unknown hardware %q (want none or simulated)", kind)
}
