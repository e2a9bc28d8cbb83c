// Package handlers предоставляет HTTP handlers страниц учетных записей:
// выбор роли, регистрация, вход и выход, сброс и смена пароля
package handlers

import (
	"context"
	"embed"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/jwt"
	"github.com/Ultrahd-dev/student-accounts/internal/metrics"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/internal/web"
)

//go:embed templates/*.html
var templateFS embed.FS

// Имена шаблонов страниц
const (
	pageUserType              = "user_type.html"
	pageRegistration          = "registration.html"
	pageLogin                 = "login.html"
	pagePasswordReset         = "password_reset.html"
	pagePasswordResetDone     = "password_reset_done.html"
	pagePasswordResetConfirm  = "password_reset_confirm.html"
	pagePasswordResetComplete = "password_reset_complete.html"
	pagePasswordChange        = "password_change.html"
	pagePasswordChangeDone    = "password_change_done.html"
	pageProfile               = "profile.html"
)

// PasswordResetMailer отправляет письмо со ссылкой сброса пароля
type PasswordResetMailer interface {
	SendPasswordReset(ctx context.Context, user *users.User, resetURL string) error
}

// Config адреса, используемые обработчиками
type Config struct {
	BaseURL           string
	SiteName          string
	LoginURL          string
	LoginRedirectURL  string
	LogoutRedirectURL string
}

// Handler обрабатывает HTTP запросы страниц учетных записей
type Handler struct {
	users    *users.Service
	auth     *auth.Middleware
	tokens   *jwt.Manager
	mailer   PasswordResetMailer
	metrics  *metrics.Metrics
	renderer *web.Renderer
	logger   *zap.Logger
	cfg      Config

	// ограничители POST-запросов входа и сброса пароля; могут быть nil
	loginLimiter func(http.Handler) http.Handler
	resetLimiter func(http.Handler) http.Handler
}

// Option настраивает Handler
type Option func(*Handler)

// WithLoginLimiter ограничивает POST /accounts/login/
func WithLoginLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.loginLimiter = mw }
}

// WithResetLimiter ограничивает POST /accounts/password_reset/
func WithResetLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.resetLimiter = mw }
}

// NewHandler создает новый handler страниц учетных записей
func NewHandler(
	userService *users.Service,
	authMiddleware *auth.Middleware,
	tokens *jwt.Manager,
	mailer PasswordResetMailer,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) (*Handler, error) {
	pages, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	renderer, err := web.NewRenderer(cfg.SiteName, pages,
		pageUserType, pageRegistration, pageLogin,
		pagePasswordReset, pagePasswordResetDone, pagePasswordResetConfirm, pagePasswordResetComplete,
		pagePasswordChange, pagePasswordChangeDone, pageProfile,
	)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		users:    userService,
		auth:     authMiddleware,
		tokens:   tokens,
		mailer:   mailer,
		metrics:  m,
		renderer: renderer,
		logger:   logger,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data map[string]interface{}) {
	err := h.renderer.Render(w, r, status, name, web.Page{Title: title, Data: data})
	if err != nil {
		h.logger.Error("Failed to render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// parseForm разбирает тело POST-запроса; при ошибке отвечает 400
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusFound)
}

func currentSession(r *http.Request) *session.Session {
	return session.FromContext(r.Context())
}

func currentUser(r *http.Request) (*users.User, bool) {
	return auth.UserFromContext(r.Context())
}
