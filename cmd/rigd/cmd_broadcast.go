package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/polarlab/coincidence-rig/internal/broadcast"
	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/dispatch"
	"github.com/polarlab/coincidence-rig/internal/observability"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/simulator"
)

var (
	broadcastAddr     string        // HTTP listen address
	broadcastInterval time.Duration // periodic re-broadcast
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Relay measurements to WebSocket clients on /ws",
	RunE:  runBroadcast,
}

func init() {
	broadcastCmd.Flags().StringVar(&broadcastAddr, "addr", ":8080", "HTTP listen address")
	broadcastCmd.Flags().DurationVar(&broadcastInterval, "interval", broadcast.DefaultInterval, "re-broadcast interval for the latest value")
}

func runBroadcast(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runlog.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)
	watcher := config.NewWatcher(configPath, cfg, os.LookupEnv, logger)
	d := dispatch.New(
		dispatch.WithStore(store),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(logger),
		dispatch.WithTrigger("socket"),
	)

	hub := broadcast.NewHub(broadcast.Options{
		Interval: broadcastInterval,
		Metrics:  metrics,
		Logger:   logger,
		Measure: func(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
			res, err := d.Dispatch(ctx, watcher.Current(), angles)
			if err != nil {
				return simulator.CoincidencePeaks{}, err
			}
			return res.Peaks, nil
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", observability.Handler(reg))
	srv := &http.Server{Addr: broadcastAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		logger.Info("broadcaster listening", "addr", broadcastAddr, "interval", broadcastInterval)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("broadcast serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
