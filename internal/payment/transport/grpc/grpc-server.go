package grpcserver

import (
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "payment.v1.PaymentService"

// GRPCServer exposes the standard health protocol for the payment service.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
}

func NewGRPCServer(addr string) *GRPCServer {
	s := &GRPCServer{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *GRPCServer) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *GRPCServer) Serve(l net.Listener) error {
	logrus.WithField("addr", l.Addr().String()).Info("GRPC:LISTEN")
	return s.server.Serve(l)
}

func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Stop flips health to NOT_SERVING before draining in-flight RPCs.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
