package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the health service name reported for the trading engine.
const EngineService = "ftrader.engine"

// Health reports engine readiness over the standard gRPC health protocol.
type Health struct {
	srv *health.Server
}

// NewHealth creates a reporter with the engine marked NOT_SERVING.
func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetServing marks the engine ready or not ready.
func (h *Health) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(EngineService, status)
}

// Shutdown marks every service NOT_SERVING.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// NewGRPCServer returns a gRPC server with the health service registered.
func (s *Server) NewGRPCServer() *grpc.Server {
	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, s.health.srv)
	return g
}
