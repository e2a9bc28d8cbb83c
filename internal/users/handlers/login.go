package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/metrics"
	"github.com/Ultrahd-dev/student-accounts/internal/ratelimit"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// Сообщения страницы входа
const (
	msgLoginRequired = "Email and password are required"
	msgLoginInvalid  = "Email or password is incorrect"
	msgLoginInactive = "Your account is currently inactive."
	msgLoginError    = "An error occurred while logging in"
)

// LoginPage показывает форму входа; вошедший пользователь перенаправляется
// GET /accounts/login/
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(r); ok {
		h.redirect(w, r, h.cfg.LoginRedirectURL)
		return
	}
	h.renderLogin(w, r, "", r.URL.Query().Get("next"))
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, email, next string) {
	h.render(w, r, http.StatusOK, pageLogin, "Log in", map[string]interface{}{
		"Email": email,
		"Next":  next,
	})
}

// Login выполняет вход по email и паролю.
// Любая непредвиденная ошибка, включая panic, превращается в общее сообщение.
// POST /accounts/login/
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	var email, next string

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic during login", zap.Any("panic", rec))
			h.metrics.Login(metrics.ResultError)
			s.AddMessage(session.LevelError, msgLoginError)
			h.renderLogin(w, r, email, next)
		}
	}()

	if err := r.ParseForm(); err != nil {
		h.loginFailed(w, r, metrics.ResultError, msgLoginError, "", "", err)
		return
	}
	email = r.PostForm.Get("email")
	password := r.PostForm.Get("password")
	next = r.PostForm.Get("next")
	if next == "" {
		next = r.URL.Query().Get("next")
	}

	if email == "" || password == "" {
		h.loginFailed(w, r, metrics.ResultInvalid, msgLoginRequired, email, next, nil)
		return
	}

	user, err := h.users.AuthenticateUser(r.Context(), email, password)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		h.loginFailed(w, r, metrics.ResultInvalid, msgLoginInvalid, email, next, nil)
		return
	case errors.Is(err, users.ErrInactiveUser):
		h.loginFailed(w, r, metrics.ResultInactive, msgLoginInactive, email, next, nil)
		return
	case err != nil:
		h.loginFailed(w, r, metrics.ResultError, msgLoginError, email, next, err)
		return
	}

	if err := h.users.RecordLogin(r.Context(), user, ratelimit.ClientIP(r)); err != nil {
		h.loginFailed(w, r, metrics.ResultError, msgLoginError, email, next, err)
		return
	}
	h.auth.Login(s, user)
	h.metrics.Login(metrics.ResultSuccess)
	h.logger.Info("User logged in", zap.String("user_id", user.ID.String()))

	target := h.cfg.LoginRedirectURL
	if auth.IsSafeRedirect(next) {
		target = next
	}
	h.redirect(w, r, target)
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, result, message, email, next string, err error) {
	if err != nil {
		h.logger.Error("Login failed", zap.Error(fmt.Errorf("login: %w", err)))
	}
	h.metrics.Login(result)
	currentSession(r).AddMessage(session.LevelError, message)
	h.renderLogin(w, r, email, next)
}

// Logout завершает сессию
// POST /accounts/logout/
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if user, ok := currentUser(r); ok {
		h.logger.Info("User logged out", zap.String("user_id", user.ID.String()))
	}
	h.auth.Logout(currentSession(r))
	h.redirect(w, r, h.cfg.LogoutRedirectURL)
}
