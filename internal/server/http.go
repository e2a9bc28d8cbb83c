// Package server собирает HTTP сервер приложения: цепочку middleware,
// страницы учетных записей, панель администратора, метрики и health-check
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/admin"
	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/metrics"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users/handlers"
)

// Options зависимости HTTP маршрутов
type Options struct {
	Sessions *session.Manager
	Auth     *auth.Middleware
	Accounts *handlers.Handler
	Admin    *admin.Handler
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// Ready сообщает готовность для /healthz; nil означает "всегда готов"
	Ready func() bool

	// TrustProxy включает middleware.RealIP. Без прокси заголовки задает сам клиент,
	// и ограничитель попыток входа обходился бы их подменой.
	TrustProxy bool
}

// NewRouter создает корневой обработчик приложения
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	// страницы с сессией, CSRF и текущим пользователем
	r.Group(func(r chi.Router) {
		r.Use(opts.Sessions.Middleware)
		r.Use(session.CSRF(opts.Logger))
		r.Use(opts.Auth.Authenticate)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/accounts/profile/", http.StatusFound)
		})
		r.Mount("/accounts", opts.Accounts.Routes())
		r.Mount("/admin", opts.Admin.Routes())
	})

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// requestLogger логирует каждый запрос после ответа
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

// Server HTTP сервер с корректной остановкой
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New создает HTTP сервер на указанном порту
func New(port int, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Start блокирует до остановки сервера
func (s *Server) Start() error {
	s.logger.Info("HTTP server started", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown дожидается завершения активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
