package infrastructure

import (
	"errors"
	"net"

	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCHealthServer exposes the standard grpc health service so orchestrators can
// probe each feed component by name.
type GRPCHealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

func NewGRPCHealthServer(addr string) *GRPCHealthServer {
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	if config.Env != nil && config.Env.Env == constant.DevelopmentEnvironment {
		reflection.Register(server)
	}

	return &GRPCHealthServer{
		addr:   addr,
		server: server,
		health: healthServer,
	}
}

func (g *GRPCHealthServer) Health() *health.Server {
	return g.health
}

func (g *GRPCHealthServer) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	g.lis = lis

	logrus.WithField("addr", g.addr).Info("grpc server starting")
	err = g.server.Serve(lis)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}

func (g *GRPCHealthServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
