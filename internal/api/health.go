package api

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name of the classification pipeline.
const ServiceName = "ns.sensor.Pipeline"

// HealthServer exposes the standard gRPC health service.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer creates a health server reporting NOT_SERVING until
// SetServing is called.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.Named("health"),
	}
	grpc_health_v1.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing updates the status of the overall server and the pipeline
// service.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve listens on addr in the background and returns the bound address.
func (h *HealthServer) Serve(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	go func() {
		h.logger.Info("gRPC health server starting", zap.String("addr", ln.Addr().String()))
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("gRPC health server failed", zap.Error(err))
		}
	}()
	return ln.Addr(), nil
}

// Stop marks every service as not serving and stops the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
