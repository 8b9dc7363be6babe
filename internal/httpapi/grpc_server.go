package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"iepp.org/internal/obs"
)

// HealthServer serves grpc.health.v1 and mirrors the readiness probe into the
// serving status of both the overall server ("") and serviceName.
type HealthServer struct {
	srv      *health.Server
	probe    readinessChecker
	interval time.Duration
}

// NewHealthServer starts NOT_SERVING until the first successful probe.
func NewHealthServer(probe readinessChecker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &HealthServer{srv: health.NewServer(), probe: probe, interval: interval}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh probes once and updates the serving status.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.probe.Check(ctx); err != nil {
		obs.Logger().WarnContext(ctx, "grpc health: not ready", "error", err)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes on every interval until ctx ends, then marks the server as
// shutting down so watchers see NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(serviceName, st)
}
