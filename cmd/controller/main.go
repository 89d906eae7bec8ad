package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/polarlab/coincidence-rig/internal/config"
	"github.com/polarlab/coincidence-rig/internal/dispatch"
	"github.com/polarlab/coincidence-rig/internal/runlog"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

// #region main
func main() {
	configPath := flag.String("config", envOr("RIG_CONFIG", "config.json"), "path to config file (JSON or YAML)")
	watch := flag.Bool("watch", true, "reload the config file when it changes")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	// stdout carries protocol lines only
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "error", err)
		os.Exit(2)
	}

	store, err := runlog.NewStore(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(*configPath, cfg, os.LookupEnv, logger)
	if *watch {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	d := dispatch.New(
		dispatch.WithStore(store),
		dispatch.WithLogger(logger),
		dispatch.WithTrigger("stdin"),
	)

	logger.Info("controller ready", "mode", cfg.Mode(), "db", cfg.DBPath, "bridge", cfg.BridgeURL)
	if err := run(ctx, os.Stdin, os.Stdout, d, watcher.Current, logger); err != nil {
		logger.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}
// #endregion main

// #region loop
// errorLine is written in place of a result when a request fails.
type errorLine struct {
	Error string `json:"error"`
}

// run answers one JSON line per input line until in is exhausted or ctx ends.
// current is consulted for every request so config reloads apply immediately.
func run(ctx context.Context, in io.Reader, out io.Writer, d *dispatch.Dispatcher, current func() config.Config, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	enc := json.NewEncoder(out)
	turn := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		turn++

		angles, err := wire.DecodeKnobs([]byte(line))
		if err != nil {
			logger.Warn("rejected request", "turn", turn, "error", err)
			if err := enc.Encode(errorLine{Error: err.Error()}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			continue
		}

		res, err := d.Dispatch(ctx, current(), angles)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error("dispatch failed", "turn", turn, "error", err)
			if err := enc.Encode(errorLine{Error: err.Error()}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			continue
		}

		msg, err := wire.EncodeEntanglement(res.Peaks)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if _, err := fmt.Fprintf(out, "%s\n", msg); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		logger.Info("measured",
			"turn", turn,
			"run_id", res.RunID,
			"source", res.Source,
			"entangled", res.Entangled,
			"duration", res.Duration)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}
// #endregion loop

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion helpers
