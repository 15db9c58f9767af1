package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"PerpVault/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer serves the standard gRPC health service and reflection. Its
// serving status follows the HealthChecker's readiness.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	grpcAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

func NewGRPCServer(grpcAddr string, healthChecker *observability.HealthChecker, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		healthChecker: healthChecker,
		logger:        logger,
	}
}

// SyncHealth copies the HealthChecker's readiness into the gRPC health
// service.
func (s *GRPCServer) SyncHealth() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.healthChecker == nil || s.healthChecker.IsReady() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs on an existing listener until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		s.SyncHealth()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("gRPC server shutting down")
				s.healthServer.Shutdown()
				s.grpcServer.GracefulStop()
				return
			case <-ticker.C:
				s.SyncHealth()
			}
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
