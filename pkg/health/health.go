// Package health exposes the standard gRPC health service for the lock server.
package health

import (
	"context"
	"net"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/metaparticle-io/container-lib/pkg/metrics"
)

// ServiceName is the service health checks ask about; "" reports the whole process.
const ServiceName = "elector"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger hclog.Logger
}

func New(logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// reports SERVING only while this node leads the raft cluster
// returns when ctx is done or ch is closed
func (s *Server) FollowLeadership(ctx context.Context, ch <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case leader, ok := <-ch:
			if !ok {
				return
			}
			s.SetServing(leader)
			if leader {
				metrics.RaftIsLeader.Set(1)
				s.logger.Info("raft leadership gained")
			} else {
				metrics.RaftIsLeader.Set(0)
				s.logger.Warn("raft leadership lost")
			}
		}
	}
}

// blocks until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("health service listening", "addr", lis.Addr())
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
