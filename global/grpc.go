package global

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "ppsignal"

// healthServer 只提供标准 grpc.health.v1，供负载均衡探活
type healthServer struct {
	gs *grpc.Server
	hs *health.Server
}

func newHealthServer() *healthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	return &healthServer{gs: gs, hs: hs}
}

func (h *healthServer) serve(ln net.Listener) error {
	return h.gs.Serve(ln)
}

// stop 先标记 NOT_SERVING 再优雅停止
func (h *healthServer) stop() {
	h.hs.Shutdown()
	h.gs.GracefulStop()
}
