package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/ammora/internal/store"
)

// GRPCHealth exposes the standard gRPC health service for orchestrators.
// The chat service is SERVING while the database answers pings.
type GRPCHealth struct {
	server *health.Server
	repo   store.Repository
	logger *slog.Logger
}

// NewGRPCHealth creates the health service in NOT_SERVING state.
func NewGRPCHealth(repo store.Repository, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	s := health.NewServer()
	s.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCHealth{server: s, repo: repo, logger: logger}
}

// Register attaches the health service to a gRPC server.
func (g *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.server)
}

// Check pings the database once and updates the serving status.
func (g *GRPCHealth) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.repo.Ping(ctx); err != nil {
		g.logger.Warn("gRPC health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.server.SetServingStatus("", status)
	g.server.SetServingStatus(serviceName, status)
	return status
}

// Run probes the database every interval until ctx is done.
func (g *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			g.Check(probeCtx)
			cancel()
		}
	}
}

// Shutdown marks every service NOT_SERVING so that clients drain.
func (g *GRPCHealth) Shutdown() {
	g.server.Shutdown()
}
