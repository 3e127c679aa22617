package transport

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tributary/source/nakadi"
)

// ReaderService is the health service name reflecting the reader state. The
// empty service name mirrors it.
const ReaderService = "tributary.nakadi.Reader"

type Server struct {
	grpc   *grpc.Server
	lis    net.Listener
	health *health.Server
}

func StartServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		lis:    lis,
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// ObserveState is meant for ReaderParams.OnStateChange.
func (s *Server) ObserveState(st nakadi.State) {
	s.setStatus(servingStatus(st))
}

func servingStatus(st nakadi.State) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case nakadi.StateStreaming, nakadi.StatePaused:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ReaderService, st)
}

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
