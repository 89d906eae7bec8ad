// Package bridge serves the hardware bridge HTTP API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/polarlab/coincidence-rig/internal/observability"
	"github.com/polarlab/coincidence-rig/internal/simulator"
	"github.com/polarlab/coincidence-rig/internal/wire"
)

// #region constants
// Paddle angles the device accepts, in degrees.
const (
	MinPaddleAngle = 0.0
	MaxPaddleAngle = 170.0
)
// #endregion constants

// #region server-struct
// Options configures a Server. Zero values disable the corresponding feature.
type Options struct {
	RatePerSecond float64             // execute requests per second; 0 means unlimited
	Burst         int                 // limiter burst; defaults to 1
	Gatherer      prometheus.Gatherer // exposed on /metrics when set
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Server is the bridge HTTP server. One measurement runs at a time.
type Server struct {
	hw      Hardware
	busy    *semaphore.Weighted
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
	engine  *gin.Engine
}

// NewServer builds the routes around hw.
func NewServer(hw Hardware, opts Options) *Server {
	s := &Server{
		hw:      hw,
		busy:    semaphore.NewWeighted(1),
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.RatePerSecond > 0 {
		burst := max(opts.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.countRequests)
	r.GET("/", s.handleHealth)
	api := r.Group("/api")
	api.POST("/hardware/execute", s.handleExecute)
	api.GET("/status", s.handleStatus)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(observability.Handler(opts.Gatherer)))
	}
	s.engine = r
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}
// #endregion server-struct

// #region run
// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("bridge listening", "addr", addr, "device_id", s.hw.DeviceID())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge serve: %w", err)
	}
}
// #endregion run

// #region handlers
// HealthResponse is the body of GET /.
type HealthResponse struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	HardwareAvailable bool   `json:"hardware_available"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:            "online",
		Service:           "hardware-bridge",
		HardwareAvailable: s.hw.Available(c.Request.Context()),
	})
}

// handleExecute handles POST /api/hardware/execute.
//
//	200 OK: {success: true, data: {entanglement}}
//	400 Bad Request: missing or invalid knob_values
//	409 Conflict: a measurement is already running
//	429 Too Many Requests: rate limited
//	503 Service Unavailable: no hardware
//	500 Internal Server Error: hardware failure
func (s *Server) handleExecute(c *gin.Context) {
	logger := s.logger.With("handler", "execute")

	if s.limiter != nil && !s.limiter.Allow() {
		fail(c, http.StatusTooManyRequests, "Rate limited")
		return
	}

	var req wire.KnobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.KnobValues == nil {
		fail(c, http.StatusBadRequest, "Missing knob_values")
		return
	}
	angles, err := req.Angles()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	if !s.hw.Available(ctx) {
		fail(c, http.StatusServiceUnavailable, "Hardware not available")
		return
	}
	if !s.busy.TryAcquire(1) {
		fail(c, http.StatusConflict, "Hardware busy")
		return
	}
	defer s.busy.Release(1)

	clamped := ClampAngles(angles)
	logger.Info("executing on hardware", "angles", clamped.Slice(), "device_id", s.hw.DeviceID())
	peaks, err := s.hw.Execute(ctx, clamped)
	if err != nil {
		logger.Error("hardware execution failed", "error", err)
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	msg := wire.NewEntanglementMessage(peaks)
	c.JSON(http.StatusOK, wire.BridgeEnvelope{Success: true, Data: &msg})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st := wire.HardwareStatus{
		BridgeOnline:      true,
		HardwareConnected: s.hw.Available(ctx),
		DeviceID:          s.hw.DeviceID(),
	}
	if st.DeviceID != "" {
		st.AvailableDevices = []string{st.DeviceID}
	}
	if !st.HardwareConnected {
		st.Error = ErrUnavailable.Error()
	}
	c.JSON(http.StatusOK, st)
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, wire.BridgeEnvelope{Success: false, Error: msg})
}
// #endregion handlers

// #region middleware
func (s *Server) countRequests(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	s.metrics.HTTPRequest(route, strconv.Itoa(c.Writer.Status()))
}
// #endregion middleware

// #region clamp
// ClampAngles limits each paddle angle to the device range.
func ClampAngles(a simulator.AngleTriple) simulator.AngleTriple {
	for i, v := range a {
		a[i] = min(max(v, MinPaddleAngle), MaxPaddleAngle)
	}
	return a
}
// #endregion clamp
