// Package auth предоставляет функции для аутентификации и авторизации
// на основе серверной сессии
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// Ключи для хранения данных в контексте HTTP запроса
type contextKey string

const (
	// Ключ для хранения пользователя в контексте
	UserContextKey contextKey = "user"
)

// UserFromContext извлекает пользователя из контекста HTTP запроса
func UserFromContext(ctx context.Context) (*users.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*users.User)
	return user, ok
}

// WithUser кладет пользователя в контекст
func WithUser(ctx context.Context, user *users.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// UserLoader загружает пользователя по ID
type UserLoader interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// Middleware предоставляет middleware функции для аутентификации
type Middleware struct {
	users    UserLoader
	secret   []byte
	loginURL string
	logger   *zap.Logger
}

// NewMiddleware создает новый middleware для аутентификации
func NewMiddleware(loader UserLoader, secret, loginURL string, logger *zap.Logger) *Middleware {
	return &Middleware{
		users:    loader,
		secret:   []byte(secret),
		loginURL: loginURL,
		logger:   logger,
	}
}

// SessionAuthHash вычисляет хэш, привязывающий сессию к текущему паролю
func (m *Middleware) SessionAuthHash(user *users.User) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte("session-auth-hash"))
	mac.Write([]byte(user.PasswordHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate проверяет пользователя из сессии и добавляет его в контекст запроса.
// Неактивный пользователь или сменившийся пароль завершают сессию.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		if s.UserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.sessionUser(r.Context(), s)
		if err != nil {
			m.logger.Error("Failed to load session user", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if user == nil {
			s.Flush()
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// sessionUser возвращает nil без ошибки, если сессия больше не действительна
func (m *Middleware) sessionUser(ctx context.Context, s *session.Session) (*users.User, error) {
	id, err := uuid.Parse(s.UserID)
	if err != nil {
		return nil, nil
	}

	user, err := m.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, nil
	}
	if !hmac.Equal([]byte(s.AuthHash), []byte(m.SessionAuthHash(user))) {
		return nil, nil
	}
	return user, nil
}

// Login привязывает сессию к пользователю: новый ключ, новый CSRF-токен
func (m *Middleware) Login(s *session.Session, user *users.User) {
	if s.UserID != "" && s.UserID != user.ID.String() {
		// другой пользователь в той же сессии
		s.Flush()
	} else {
		s.Renew()
	}
	s.SetUser(user.ID.String(), m.SessionAuthHash(user))
	s.RotateCSRF()
}

// Logout очищает сессию
func (m *Middleware) Logout(s *session.Session) {
	s.Flush()
}

// UpdateSessionAuthHash сохраняет текущую сессию после смены пароля
func (m *Middleware) UpdateSessionAuthHash(s *session.Session, user *users.User) {
	s.Renew()
	s.SetAuthHash(m.SessionAuthHash(user))
}

// RedirectToLogin отправляет на страницу входа с возвратом на текущий адрес
func (m *Middleware) RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := m.loginURL + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// RequireLogin пропускает только вошедших пользователей
func (m *Middleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			m.RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff пропускает только активных сотрудников
func (m *Middleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			m.RedirectToLogin(w, r)
			return
		}
		if !user.IsActive || !user.IsStaff {
			http.Error(w, "You are authenticated as "+user.Email+
				", but are not authorized to access this page.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsSafeRedirect разрешает только локальные пути
func IsSafeRedirect(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
