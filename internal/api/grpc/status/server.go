package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
)

const (
	// ServiceName reports overall session health.
	ServiceName = "imgcast"
	// TransferServiceName reports whether a job is in progress.
	TransferServiceName = "imgcast.transfer"
)

// Server publishes job progress as health statuses.
type Server struct {
	// health holds the published statuses.
	health *health.Server
	// grpcServer serves the health and reflection services.
	grpcServer *grpc.Server

	mu sync.Mutex
	// phase is the phase of the current job.
	phase transfer.Phase
}

// NewServer creates a server with the session healthy and no job in progress.
func NewServer() *Server {
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(TransferServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{
		health:     healthServer,
		grpcServer: grpcServer,
		phase:      transfer.PhaseDone,
	}
}

// PhaseChanged implements coordinator.Observer.
func (s *Server) PhaseChanged(_ *transfer.Job, phase transfer.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = phase

	status := healthpb.HealthCheckResponse_SERVING
	if phase == transfer.PhaseDone {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus(TransferServiceName, status)
}

// JobFinished implements coordinator.Observer.
func (s *Server) JobFinished(result *transfer.Result) {
	if result.Succeeded() {
		return
	}

	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Phase returns the phase of the current or last job.
func (s *Server) Phase() transfer.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// Serve handles requests on lis until ctx is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx = logger.WithName(ctx, "status-server")

	logger.InfoKV(ctx, "Status server listening", "listen_address", lis.Addr().String())

	// Closed after GracefulStop so Serve returns only once the server is down.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		close(done)
	}()

	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Status server stopped")

	return nil
}
