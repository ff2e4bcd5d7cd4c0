package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gitforge/pkg/lifecycle"
)

// ServiceName is the gRPC health service name reported for the node.
const ServiceName = "gitforge"

// Health publishes the node's readiness through the standard gRPC health
// service. It is a lifecycle listener: NOT_SERVING until the system has
// started, SERVING while running, NOT_SERVING again once stopping begins.
type Health struct {
	lifecycle.NopListener
	srv *health.Server
}

// NewHealth creates a health service reporting NOT_SERVING.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Name identifies the listener in lifecycle errors.
func (h *Health) Name() string { return "health" }

// Register exposes the health service on s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

func (h *Health) SystemStarted(context.Context, lifecycle.Subject) error {
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

func (h *Health) SystemStopping(context.Context, lifecycle.Subject) error {
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return nil
}

// Check reports the current status of the node service.
func (h *Health) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}
