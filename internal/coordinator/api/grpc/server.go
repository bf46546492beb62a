package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/logging"
)

// JobService is the health service name that tracks the running job.
const JobService = "gojob.Job"

// Server exposes the standard gRPC health protocol so orchestrators can check
// the coordinator. The overall status and JobService report SERVING while the
// job runs.
type Server struct {
	addr       string
	grpcServer *grpc.Server
	health     *health.Server
	logger     logging.Logger
}

func NewServer(cfg config.GRPCConfig, logger logging.Logger) *Server {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveMinTime,
			PermitWithoutStream: true,
		}),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(JobService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		addr:       cfg.Addr,
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger,
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// JobFinished flips JobService to NOT_SERVING once every chunk is resolved.
func (s *Server) JobFinished() {
	s.health.SetServingStatus(JobService, healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
