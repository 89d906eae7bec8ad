package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarlab/coincidence-rig/internal/remote"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

var errHardwareDown = errors.New("bridge reports hardware not available")

var (
	statusBridgeURL string        // overrides the configured bridge url
	statusGRPCAddr  string        // gRPC health address; empty asks the HTTP status endpoint
	statusTimeout   time.Duration // bounds the whole query
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ask a hardware bridge whether its hardware is available",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusBridgeURL, "bridge-url", "", "bridge base url (default: configured bridgeUrl)")
	statusCmd.Flags().StringVar(&statusGRPCAddr, "grpc-addr", "", "gRPC health address of the bridge")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "query timeout")
}

// statusReport is printed as JSON; the command fails when Healthy is false.
type statusReport struct {
	BridgeURL string               `json:"bridge_url"`
	Via       string               `json:"via"`
	Healthy   bool                 `json:"healthy"`
	Status    *wire.HardwareStatus `json:"status,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := statusBridgeURL
	if url == "" {
		url = cfg.BridgeURL
	}
	if url == "" {
		return errors.New("no bridge url: pass --bridge-url or set BRIDGE_URL")
	}

	client := remote.New(url, statusTimeout, remote.WithLogger(logger))
	defer client.Close()
	report := statusReport{BridgeURL: url, Via: "http"}
	if statusGRPCAddr != "" {
		if err := client.DialHealth(statusGRPCAddr); err != nil {
			return err
		}
		report.Via = "grpc"
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	if st, err := client.Status(ctx); err != nil {
		report.Error = err.Error()
	} else {
		report.Status = &st
	}
	healthy, err := client.Healthy(ctx)
	if err != nil && report.Error == "" {
		report.Error = err.Error()
	}
	report.Healthy = healthy
	logger.Debug("bridge status", "url", url, "via", report.Via, "healthy", healthy)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !healthy {
		return errHardwareDown
	}
	return nil
}
