// Package grpc hosts the gRPC listener of the auth server: the standard
// health service plus interceptors that authenticate access tokens and map
// autherr kinds onto status codes. API services are registered by the
// embedding transport through Registrar.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type GRPCServer struct {
	address string
	logger  logging.Logger
	srv     *grpc.Server
	health  *health.Server
}

// NewGRPCServer builds a server for address. Methods for which protected
// returns true require an access token.
func NewGRPCServer(address string, l logging.Logger, a Authenticator, protected func(fullMethod string) bool) *GRPCServer {
	logger := l.With("module", "grpc_server")

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		ErrorInterceptor(logger),
		AccessTokenInterceptor(a, protected),
	))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{address: address, logger: logger, srv: srv, health: hs}
}

// Registrar lets callers add services before Run.
func (s *GRPCServer) Registrar() grpc.ServiceRegistrar {
	return s.srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	return s.srv.Serve(lis)
}
