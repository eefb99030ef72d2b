package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Pinger reports whether a dependency the service needs is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1 for orchestrator health checks. The serving
// status follows the event store.
type HealthServer struct {
	name   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewHealthServer(name string, log *zap.Logger) *HealthServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(log),
		recoveryInterceptor(log),
	))

	// Checker for kuber
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Reflection для grpcurl и подобных инструментов
	reflection.Register(grpcServer)

	return &HealthServer{
		name:   name,
		server: grpcServer,
		health: healthServer,
		logger: log,
	}
}

func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	// "" is the overall status most checkers ask for
	s.health.SetServingStatus(s.name, status)
	s.health.SetServingStatus("", status)
}

// Watch pings dep every interval and flips the serving status on change.
// It returns when ctx is cancelled.
func (s *HealthServer) Watch(ctx context.Context, dep Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := dep.Ping(pingCtx)
			cancel()

			if ok := err == nil; ok != serving {
				serving = ok
				s.SetServing(ok)
				if ok {
					s.logger.Info("Event store is reachable again")
				} else {
					s.logger.Warn("Event store ping failed", zap.Error(err))
				}
			}
		}
	}
}

// Shutdown drains in-flight RPCs and falls back to a hard stop when ctx
// expires first.
func (s *HealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped")
	case <-ctx.Done():
		s.logger.Warn("shutdown gRPC server timed out")
		s.server.Stop()
	}
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			log.Error("gRPC call failed", fields...)
		} else {
			log.Debug("gRPC call", fields...)
		}

		return resp, err
	}
}

func recoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
				)
				err = fmt.Errorf("internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
