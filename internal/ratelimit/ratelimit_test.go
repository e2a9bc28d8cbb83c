package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimiter(t *testing.T, limit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "login", limit, time.Minute, 5*time.Minute, zap.NewNop()), mr
}

func TestAllow(t *testing.T) {
	l, mr := newLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Minute, retry)

	// other clients are unaffected
	ok, _, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(6 * time.Minute)
	ok, _, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindowResets(t *testing.T) {
	l, mr := newLimiter(t, 1)
	ctx := context.Background()

	ok, _, _ := l.Allow(ctx, "ip")
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, _, _ = l.Allow(ctx, "ip")
	assert.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(t, 1)
	var limited []string
	l.OnLimited = func(prefix string) { limited = append(limited, prefix) }

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/accounts/login/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost).Code)
	rec := do(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"login"}, limited)

	// GET is never limited
	assert.Equal(t, http.StatusOK, do(http.MethodGet).Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l, mr := newLimiter(t, 1)
	mr.Close()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	assert.Equal(t, "192.168.1.1", ClientIP(req))

	req.RemoteAddr = "192.168.1.1"
	assert.Equal(t, "192.168.1.1", ClientIP(req))
}
