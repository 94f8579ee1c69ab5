// Package server assembles the gRPC server: interceptors, services and the
// health endpoint.
package server

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	taskboardv1 "github.com/gurkanbulca/taskboard/api/taskboard/v1"
	"github.com/gurkanbulca/taskboard/internal/middleware"
	"github.com/gurkanbulca/taskboard/pkg/auth"
)

type Deps struct {
	Tokens    *auth.TokenManager
	Passwords *auth.PasswordManager
	Auth      taskboardv1.AuthServiceServer
	Tasks     taskboardv1.TaskServiceServer
	Log       zerolog.Logger
}

// Server is a configured grpc.Server plus its health status.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// New builds the server. Interceptors run in order: client metadata, auth,
// logging, request validation.
func New(d Deps, opts ...grpc.ServerOption) *Server {
	metadataExtractor := middleware.NewMetadataExtractorInterceptor()
	authInterceptor := middleware.NewAuthInterceptor(d.Tokens)
	loggingInterceptor := middleware.NewLoggingInterceptor(d.Log)
	validationInterceptor := middleware.NewValidationInterceptor(d.Passwords)

	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			metadataExtractor.Unary(),
			authInterceptor.Unary(),
			loggingInterceptor.Unary(),
			validationInterceptor.Unary(),
		),
		grpc.ChainStreamInterceptor(
			metadataExtractor.Stream(),
			authInterceptor.Stream(),
			loggingInterceptor.Stream(),
			validationInterceptor.Stream(),
		),
	)
	grpcServer := grpc.NewServer(opts...)

	taskboardv1.RegisterAuthServiceServer(grpcServer, d.Auth)
	taskboardv1.RegisterTaskServiceServer(grpcServer, d.Tasks)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(taskboardv1.AuthService_ServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(taskboardv1.TaskService_ServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{Server: grpcServer, Health: healthServer}
}

// Shutdown marks every service as not serving and drains open calls. Watch
// streams never finish on their own, so once ctx is done the remaining calls
// are cancelled.
func (s *Server) Shutdown(ctx context.Context) {
	s.Health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}
