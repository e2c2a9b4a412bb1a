// Package grpcapi exposes the standard gRPC health service for the daemon,
// so orchestrators that check over gRPC see the same liveness as /healthz.
package grpcapi

import (
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check name of the scheduler service. The empty
// name reports the server as a whole.
const ServiceName = "closingbell.Scheduler"

// Draining is closed once the process has been asked to shut down.
type Draining interface {
	Done() <-chan struct{}
}

// HealthServer serves grpc.health.v1.Health and flips every service to
// NOT_SERVING when shutdown is requested.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    *slog.Logger
	quit   chan struct{}
	once   sync.Once
}

// NewHealthServer creates a health server tracking shutdown.
func NewHealthServer(shutdown Draining, log *slog.Logger) *HealthServer {
	h := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		log:    log.With("component", "grpc"),
		quit:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	reflection.Register(h.srv)

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		select {
		case <-shutdown.Done():
			h.log.Info("shutdown requested, reporting NOT_SERVING")
			h.health.Shutdown()
		case <-h.quit:
		}
	}()
	return h
}

// Serve accepts connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health server listening", "addr", lis.Addr().String())
	return h.srv.Serve(lis)
}

// Stop drains in-flight RPCs and closes the listener.
func (h *HealthServer) Stop() {
	h.once.Do(func() {
		close(h.quit)
		h.health.Shutdown()
		h.srv.GracefulStop()
	})
}
