package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options параметры cookie и срока жизни сессии
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager загружает сессию до обработчика и сохраняет ее перед отправкой ответа
type Manager struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewManager создает менеджер сессий
func NewManager(store Store, opts Options, logger *zap.Logger) *Manager {
	return &Manager{store: store, opts: opts, logger: logger}
}

// Middleware кладет сессию запроса в контекст.
// Измененная сессия сохраняется при первой записи заголовков ответа.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.load(r)

		cw := &commitWriter{ResponseWriter: w, commit: func() { m.commit(r.Context(), w, s) }}
		next.ServeHTTP(cw, r.WithContext(WithSession(r.Context(), s)))
		cw.flushCommit()
	})
}

func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return New()
	}

	s, err := m.store.Load(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to load session", zap.Error(err))
		}
		return New()
	}
	return s
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, s *Session) {
	if !s.modified {
		return
	}

	if s.staleID != "" {
		if err := m.store.Delete(ctx, s.staleID); err != nil {
			m.logger.Warn("Failed to delete stale session", zap.Error(err))
		}
		s.staleID = ""
	}

	if err := m.store.Save(ctx, s, m.opts.TTL); err != nil {
		m.logger.Error("Failed to save session", zap.Error(err))
		return
	}
	s.modified = false

	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// commitWriter вызывает commit один раз, перед первой записью заголовков
type commitWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *commitWriter) flushCommit() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}

func (w *commitWriter) WriteHeader(code int) {
	w.flushCommit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.flushCommit()
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Имена поля формы и заголовка с CSRF-токеном
const (
	CSRFFieldName  = "csrfmiddlewaretoken"
	CSRFHeaderName = "X-CSRFToken"
)

// CSRFFailureMessage текст ответа 403 при неверном токене
const CSRFFailureMessage = "CSRF verification failed. Request aborted."

// CSRF проверяет токен для небезопасных методов. Должен стоять после Middleware.
func CSRF(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				next.ServeHTTP(w, r)
				return
			}

			s := FromContext(r.Context())
			token := r.Header.Get(CSRFHeaderName)
			if token == "" {
				token = r.PostFormValue(CSRFFieldName)
			}

			if s.CSRFToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.CSRFToken)) != 1 {
				logger.Info("CSRF verification failed",
					zap.String("path", r.URL.Path),
					zap.Bool("token_present", token != ""))
				http.Error(w, CSRFFailureMessage, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
