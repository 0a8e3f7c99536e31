package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HTTPService runs an http.Server as a lifecycle Service.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

// Start listens on Server.Addr. A clean shutdown returns nil.
func (h *HTTPService) Start() error {
	if err := h.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen on %s: %w", h.Server.Addr, err)
	}
	return nil
}

// Stop drains in-flight requests for up to ShutdownTimeout.
func (h *HTTPService) Stop() {
	timeout := h.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := h.Server.Shutdown(ctx); err != nil {
		_ = h.Server.Close()
	}
}

// HealthService serves the standard gRPC health protocol. Serving status
// is flipped to NOT_SERVING on Stop before the server drains.
type HealthService struct {
	addr   string
	server *grpc.Server
	health *health.Server
}

// NewHealthService creates a gRPC health server bound to addr on Start.
//
// Postcondition: the overall status and every name in services report SERVING.
func NewHealthService(addr string, services ...string) *HealthService {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, s := range services {
		hs.SetServingStatus(s, healthpb.HealthCheckResponse_SERVING)
	}
	return &HealthService{addr: addr, server: gs, health: hs}
}

// Health exposes the underlying status registry.
func (h *HealthService) Health() *health.Server { return h.health }

// Start listens on addr and serves until Stop.
func (h *HealthService) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", h.addr, err)
	}
	return h.Serve(lis)
}

// Serve serves on an existing listener.
func (h *HealthService) Serve(lis net.Listener) error {
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains the server.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
