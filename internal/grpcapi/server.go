// Package grpcapi exposes the standard gRPC health service. The reported
// status follows the readiness of the backing store.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"gatehouse.dev/internal/obs"
)

// ServiceName is the health service name clients should query. The empty
// name reports the same status.
const ServiceName = "gatehouse"

// ReadyChecker reports whether the backing store answers.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

// Server wraps a grpc.Server with the health service registered.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	ready    ReadyChecker
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Server)

// WithInterval sets how often Watch probes readiness.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithProbeTimeout bounds a single readiness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the server. It reports NOT_SERVING until the first successful
// probe.
func New(ready ReadyChecker, opts ...Option) (*Server, error) {
	if ready == nil {
		return nil, errors.New("grpcapi: readiness checker is required")
	}
	s := &Server{
		health:   health.NewServer(),
		ready:    ready,
		interval: 5 * time.Second,
		timeout:  2 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverUnary, s.logUnary))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// Check runs one readiness probe and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.ready.Ping(ctx); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return false
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return true
}

// Watch probes readiness until ctx is done, then marks every service as
// NOT_SERVING so watchers drain before the server stops.
func (s *Server) Watch(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop stops accepting connections and waits for in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return resp, err
}

func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("grpc handler panic",
				zap.String("method", info.FullMethod),
				zap.String("panic", fmt.Sprint(v)),
				zap.Stack("stack"),
			)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
