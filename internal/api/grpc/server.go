// Package grpcapi exposes the standard gRPC health service for the relay
// server so orchestrators can probe it alongside the HTTP endpoints.
package grpcapi

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"speech-relay-service/internal/observability/logging"
)

// ServiceName is the health-check name of the ingest service.
const ServiceName = "speech.relay.IngestService"

// Server is a gRPC server carrying health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New builds the server. Both the overall and the ingest service status start
// as SERVING.
func New() *Server {
	logger := logging.WithComponent("grpc")
	g := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, logger: logger}
	s.SetServing(true)
	return s
}

// SetServing flips the reported health status.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
	return s.grpc.Serve(lis)
}

// Stop marks the server not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.SetServing(false)
	s.grpc.GracefulStop()
}

func unaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}
