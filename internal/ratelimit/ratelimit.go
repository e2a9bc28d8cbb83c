// Package ratelimit ограничивает частоту попыток входа и сброса пароля по IP клиента
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter считает попытки в Redis: счетчик на окно и ключ блокировки при превышении
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	block  time.Duration
	prefix string
	logger *zap.Logger

	// OnLimited вызывается при отклонении запроса
	OnLimited func(prefix string)
}

// New создает ограничитель
func New(client *redis.Client, prefix string, limit int, window, block time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		block:  block,
		prefix: prefix,
		logger: logger,
	}
}

// Allow регистрирует попытку и сообщает, разрешена ли она
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	key := "ratelimit:" + l.prefix + ":" + clientID
	blockKey := key + ":blocked"

	ttl, err := l.client.TTL(ctx, blockKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("failed to check block: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return true, 0, fmt.Errorf("failed to set window: %w", err)
		}
	}

	if count > int64(l.limit) {
		pipe := l.client.TxPipeline()
		pipe.Set(ctx, blockKey, "1", l.block)
		pipe.Del(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, l.block, fmt.Errorf("failed to block client: %w", err)
		}
		return false, l.block, nil
	}
	return true, 0, nil
}

// Middleware ограничивает POST-запросы; при недоступности Redis запросы пропускаются
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retry, err := l.Allow(r.Context(), ClientIP(r))
		if err != nil {
			l.logger.Warn("Rate limiter unavailable", zap.Error(err), zap.String("limiter", l.prefix))
		}
		if !allowed {
			if l.OnLimited != nil {
				l.OnLimited(l.prefix)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			http.Error(w, "Too many attempts. Try again in "+retry.Round(time.Second).String()+".",
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP возвращает IP из RemoteAddr; за доверенным прокси его заранее подставляет middleware.RealIP
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
