// Package remote talks to a hardware bridge: HTTP for measurements and status,
// gRPC health for availability.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/polarlab/coincidence-rig/internal/health"
	"github.com/polarlab/coincidence-rig/internal/simulator"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

// #region errors
// ErrBridge marks every failure that originates at or on the way to the bridge.
var ErrBridge = errors.New("bridge error")
// #endregion errors

// #region client-struct
// Client is a hardware bridge client. The zero value is not usable; call New.
type Client struct {
	baseURL string
	http    *http.Client
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (and its timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHealthClient injects a gRPC health client.
// Used for testing without a real gRPC connection.
func WithHealthClient(hc healthpb.HealthClient) Option {
	return func(c *Client) { c.health = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}
// #endregion client-struct

// #region constructor
// New returns a client for the bridge at baseURL. timeout bounds each HTTP call.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DialHealth connects the gRPC health client to addr.
func (c *Client) DialHealth(addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c.conn = conn
	c.health = healthpb.NewHealthClient(conn)
	return nil
}

// Close shuts down the gRPC connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion constructor

// #region execute
// Execute asks the bridge to measure angles.
func (c *Client) Execute(ctx context.Context, angles simulator.AngleTriple) (simulator.CoincidencePeaks, error) {
	body, err := json.Marshal(wire.NewKnobRequest(angles))
	if err != nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/hardware/execute", bytes.NewReader(body))
	if err != nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: build request: %w", ErrBridge, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: execute: %w", ErrBridge, err)
	}
	defer resp.Body.Close()

	var env wire.BridgeEnvelope
	if err := decodeBody(resp.Body, &env); err != nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: status %d: %w", ErrBridge, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: status %d: %s", ErrBridge, resp.StatusCode, env.Error)
	}
	if env.Data == nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: response has no data", ErrBridge)
	}
	peaks, err := env.Data.Peaks()
	if err != nil {
		return simulator.CoincidencePeaks{}, fmt.Errorf("%w: %w", ErrBridge, err)
	}
	return peaks, nil
}
// #endregion execute

// #region status
// Status fetches the bridge's hardware status.
func (c *Client) Status(ctx context.Context) (wire.HardwareStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return wire.HardwareStatus{}, fmt.Errorf("%w: build request: %w", ErrBridge, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wire.HardwareStatus{}, fmt.Errorf("%w: status: %w", ErrBridge, err)
	}
	defer resp.Body.Close()

	var st wire.HardwareStatus
	if err := decodeBody(resp.Body, &st); err != nil {
		return wire.HardwareStatus{}, fmt.Errorf("%w: status %d: %w", ErrBridge, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("%w: status %d: %s", ErrBridge, resp.StatusCode, st.Error)
	}
	return st, nil
}
// #endregion status

// #region healthy
// Healthy reports whether the bridge says its hardware is available. It uses
// gRPC health when connected and falls back to the HTTP status endpoint.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	if c.health == nil {
		st, err := c.Status(ctx)
		if err != nil {
			return false, err
		}
		return st.HardwareConnected, nil
	}
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: health.Service})
	if err != nil {
		return false, fmt.Errorf("%w: health check: %w", ErrBridge, err)
	}
	c.logger.Debug("bridge health", "response", protojson.Format(resp))
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
// #endregion healthy

// #region helpers
const maxBody = 1 << 20

func decodeBody(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
// #endregion helpers
