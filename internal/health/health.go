// Package health advertises hardware availability over the standard gRPC
// health protocol.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name clients check for hardware availability.
const Service = "rig.Hardware"

// #region reporter
// ProbeFunc reports whether the hardware can take a measurement right now.
type ProbeFunc func(ctx context.Context) bool

// Reporter keeps the Service status in sync with a probe.
type Reporter struct {
	srv    *grpchealth.Server
	probe  ProbeFunc
	logger *slog.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

// NewReporter starts with Service NOT_SERVING until the first Check.
func NewReporter(probe ProbeFunc, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpchealth.NewServer()
	srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Reporter{
		srv:    srv,
		probe:  probe,
		logger: logger,
		last:   healthpb.HealthCheckResponse_NOT_SERVING,
	}
}

// Register attaches the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// Check runs the probe once and publishes the result.
func (r *Reporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if r.probe != nil && r.probe(ctx) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if status != r.last {
		r.logger.Info("hardware health changed", "service", Service, "from", r.last.String(), "to", status.String())
		r.last = status
	}
	r.srv.SetServingStatus(Service, status)
	return status
}

// Run re-checks every interval until ctx is done, then marks everything
// NOT_SERVING.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	r.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.srv.Shutdown()
			return nil
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}
// #endregion reporter

// #region serve
// Serve listens on addr and serves the health service until ctx is done.
func Serve(ctx context.Context, addr string, r *Reporter) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return ServeListener(ctx, lis, r)
}

// ServeListener serves on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, r *Reporter) error {
	s := grpc.NewServer()
	r.Register(s)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	r.logger.Info("grpc health listening", "addr", lis.Addr().String())
	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	}
}
// #endregion serve
