// Package grpc реализует служебный gRPC сервер: стандартный health-сервис
// grpc.health.v1 и reflection
package grpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Check проверяет доступность зависимости, например PostgreSQL или Redis
type Check func(ctx context.Context) error

// Server отдает состояние зависимостей через grpc.health.v1
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     map[string]Check
	logger     *zap.Logger

	mu      sync.Mutex
	healthy map[string]bool
}

// NewServer создает gRPC сервер; каждая проверка публикуется как отдельный сервис health
func NewServer(checks map[string]Check, logger *zap.Logger) *Server {
	s := &Server{
		health:  health.NewServer(),
		checks:  checks,
		logger:  logger,
		healthy: make(map[string]bool, len(checks)),
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	// до первой проверки сервисы считаются недоступными
	for name := range checks {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// logUnary логирует каждый unary вызов
func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("gRPC request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}

// Start запускает gRPC сервер на указанном порту
func (s *Server) Start(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("gRPC server started", zap.Int("port", port))
	return s.Serve(lis)
}

// Serve обслуживает соединения уже открытого listener
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Probe выполняет все проверки параллельно и обновляет статусы.
// Общий статус ("") SERVING, только если доступны все зависимости.
func (s *Server) Probe(ctx context.Context) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, len(names))
	var wg conc.WaitGroup
	for i, name := range names {
		check := s.checks[name]
		wg.Go(func() { errs[i] = check(ctx) })
	}
	// panic в проверке пробрасывается сюда
	wg.Wait()

	all := true
	for i, name := range names {
		s.setStatus(name, errs[i])
		if errs[i] != nil {
			all = false
		}
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !all {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
}

func (s *Server) setStatus(name string, err error) {
	s.mu.Lock()
	was, seen := s.healthy[name]
	s.healthy[name] = err == nil
	s.mu.Unlock()

	if err != nil {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
		if !seen || was {
			s.logger.Warn("Dependency is unavailable", zap.String("service", name), zap.Error(err))
		}
		return
	}
	s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	if seen && !was {
		s.logger.Info("Dependency recovered", zap.String("service", name))
	}
}

// Watch периодически выполняет проверки до отмены контекста
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.probeWithTimeout(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeWithTimeout(ctx, interval)
		}
	}
}

func (s *Server) probeWithTimeout(ctx context.Context, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.Probe(probeCtx)
}

// Healthy сообщает результат последней проверки всех зависимостей
func (s *Server) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.healthy) < len(s.checks) {
		return false
	}
	for _, ok := range s.healthy {
		if !ok {
			return false
		}
	}
	return true
}

// Stop переводит сервисы в NOT_SERVING и дожидается завершения вызовов
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
