// Package main запускает сервис учетных записей: HTTP страницы и панель
// администратора, служебный gRPC сервер с health-check
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/admin"
	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/config"
	"github.com/Ultrahd-dev/student-accounts/internal/grpc"
	"github.com/Ultrahd-dev/student-accounts/internal/jwt"
	"github.com/Ultrahd-dev/student-accounts/internal/logger"
	"github.com/Ultrahd-dev/student-accounts/internal/metrics"
	"github.com/Ultrahd-dev/student-accounts/internal/notifications"
	"github.com/Ultrahd-dev/student-accounts/internal/ratelimit"
	"github.com/Ultrahd-dev/student-accounts/internal/server"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/internal/users/handlers"
	"github.com/Ultrahd-dev/student-accounts/migrations"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// Подключаемся к базе данных
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		zlog.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zlog.Warn("Failed to close database", zap.Error(err))
		}
	}()

	// Проверяем подключение к БД
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		zlog.Fatal("Failed to ping database", zap.Error(err))
	}
	zlog.Info("Connected to database", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(db); err != nil {
			zlog.Fatal("Failed to apply migrations", zap.Error(err))
		}
		zlog.Info("Migrations applied")
	}

	// Подключаемся к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatal("Failed to ping redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
	}

	// Инициализируем компоненты
	m := metrics.New()

	userRepo := users.NewRepository(db)
	userService := users.NewService(userRepo, users.WithHashCost(cfg.Auth.BcryptCost))

	authMiddleware := auth.NewMiddleware(userService, cfg.Auth.Secret, cfg.Auth.LoginURL, zlog)
	tokenManager := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.PasswordResetTimeout)

	var sender notifications.Sender
	if cfg.SMTP.Host != "" {
		sender = notifications.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		zlog.Warn("SMTP host is not configured, emails are printed to stdout")
		sender = notifications.NewConsoleSender(os.Stdout, cfg.SMTP.From)
	}
	emailLogRepo := notifications.NewRepository(db)
	notificationService := notifications.NewService(sender, emailLogRepo, cfg.Server.SiteName, zlog)

	loginLimiter := ratelimit.New(rdb, "login", cfg.RateLimit.LoginLimit, cfg.RateLimit.Window, cfg.RateLimit.Block, zlog)
	resetLimiter := ratelimit.New(rdb, "password_reset", cfg.RateLimit.LoginLimit, cfg.RateLimit.Window, cfg.RateLimit.Block, zlog)
	loginLimiter.OnLimited = m.RateLimited
	resetLimiter.OnLimited = m.RateLimited

	accountHandler, err := handlers.NewHandler(
		userService, authMiddleware, tokenManager, notificationService, m, zlog,
		handlers.Config{
			BaseURL:           cfg.Server.BaseURL,
			SiteName:          cfg.Server.SiteName,
			LoginURL:          cfg.Auth.LoginURL,
			LoginRedirectURL:  cfg.Auth.LoginRedirectURL,
			LogoutRedirectURL: cfg.Auth.LogoutRedirectURL,
		},
		handlers.WithLoginLimiter(loginLimiter.Middleware),
		handlers.WithResetLimiter(resetLimiter.Middleware),
	)
	if err != nil {
		zlog.Fatal("Failed to create account handlers", zap.Error(err))
	}

	adminHandler, err := admin.NewHandler(userService, authMiddleware, cfg.Server.SiteName, zlog)
	if err != nil {
		zlog.Fatal("Failed to create admin handlers", zap.Error(err))
	}
	adminHandler.WithEmailLog(emailLogRepo)

	// Инициализируем gRPC сервер с проверками зависимостей
	grpcServer := grpc.NewServer(map[string]grpc.Check{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, zlog)

	sessionManager := session.NewManager(session.NewRedisStore(rdb), session.Options{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	}, zlog)

	httpServer := server.New(cfg.Server.HTTPPort, server.NewRouter(server.Options{
		Sessions: sessionManager,
		Auth:     authMiddleware,
		Accounts: accountHandler,
		Admin:    adminHandler,
		Metrics:  m,
		Logger:   zlog,
		Ready:    grpcServer.Healthy,

		TrustProxy: cfg.Server.TrustProxy,
	}), zlog)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go grpcServer.Watch(watchCtx, 15*time.Second)

	// Запускаем серверы в отдельных горутинах
	go func() {
		if err := grpcServer.Start(cfg.Server.GRPCPort); err != nil {
			zlog.Fatal("gRPC server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := httpServer.Start(); err != nil {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Ожидаем сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutdown signal received, stopping servers")

	stopWatch()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	grpcServer.Stop()

	zlog.Info("Servers stopped")
}
