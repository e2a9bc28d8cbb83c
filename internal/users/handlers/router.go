package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes возвращает маршруты /accounts/.
// Ожидает, что сессия, CSRF и аутентификация уже подключены выше.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/user_type/", h.UserTypePage)
	r.Post("/user_type/", h.UserType)
	r.Get("/registration/", h.RegistrationPage)
	r.Post("/registration/", h.Registration)

	r.Get("/login/", h.LoginPage)
	r.With(optional(h.loginLimiter)).Post("/login/", h.Login)
	r.Post("/logout/", h.Logout)

	r.Get("/password_reset/", h.PasswordResetPage)
	r.With(optional(h.resetLimiter)).Post("/password_reset/", h.PasswordReset)
	r.Get("/password_reset/done/", h.PasswordResetDone)
	r.Get("/password_reset/{uidb64}/{token}", h.PasswordResetConfirm)
	r.Post("/password_reset/{uidb64}/{token}", h.PasswordResetConfirmSubmit)
	r.Get("/password-reset-complete/", h.PasswordResetComplete)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireLogin)
		r.Get("/password_change/", h.PasswordChangePage)
		r.Post("/password_change/", h.PasswordChange)
		r.Get("/password_change/done/", h.PasswordChangeDone)
		r.Get("/profile/", h.Profile)
	})

	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
