// Package admin serves the operator-facing side of the relay: gRPC health
// checks, the Prometheus scrape endpoint and the periodic status log.
package admin

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name under which relay readiness is reported.
const ServiceName = "speedwar.relay"

// stopGrace bounds GracefulStop; open Watch streams would otherwise hold it.
const stopGrace = 2 * time.Second

// HealthServer exposes grpc.health.v1.Health for the relay.
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu      sync.Mutex
	lis     net.Listener
	stopped bool
}

// NewHealthServer creates a health server for addr. The relay starts out
// NOT_SERVING until SetServing(true) is called.
//
// Precondition: logger must be non-nil.
func NewHealthServer(addr string, logger *zap.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		addr:   addr,
		server: srv,
		health: hs,
		logger: logger,
	}
}

// SetServing updates the relay's reported status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// ListenAndServe binds addr and serves until Stop is called.
func (s *HealthServer) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves health checks on lis until Stop is called.
//
// Postcondition: Returns nil after Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return lis.Close()
	}
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("gRPC health server listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("service", ServiceName),
	)
	return s.server.Serve(lis)
}

// Stop reports NOT_SERVING to every watcher and stops the server.
func (s *HealthServer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
}

// Addr returns the listening address, or empty string if not yet serving.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return ""
}
