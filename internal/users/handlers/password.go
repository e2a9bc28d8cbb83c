package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/forms"
	"github.com/Ultrahd-dev/student-accounts/internal/jwt"
	"github.com/Ultrahd-dev/student-accounts/internal/metrics"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// Этапы сброса пароля для метрик
const (
	resetStageRequest = "request"
	resetStageConfirm = "confirm"
)

// PasswordResetPage показывает форму запроса сброса пароля
// GET /accounts/password_reset/
func (h *Handler) PasswordResetPage(w http.ResponseWriter, r *http.Request) {
	form := forms.NewPasswordResetForm(nil)
	h.render(w, r, http.StatusOK, pagePasswordReset, "Password reset", map[string]interface{}{"Form": form})
}

// PasswordReset отправляет ссылку сброса.
// Ответ не зависит от того, существует ли учетная запись.
// POST /accounts/password_reset/
func (h *Handler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	form := forms.NewPasswordResetForm(r.PostForm)
	if !form.Validate() {
		h.metrics.PasswordReset(resetStageRequest, metrics.ResultInvalid)
		h.render(w, r, http.StatusOK, pagePasswordReset, "Password reset", map[string]interface{}{"Form": form})
		return
	}

	result := h.sendResetLink(r, form.Email())
	h.metrics.PasswordReset(resetStageRequest, result)
	h.redirect(w, r, "/accounts/password_reset/done/")
}

// sendResetLink возвращает результат для метрик; ошибки только логируются
func (h *Handler) sendResetLink(r *http.Request, email string) string {
	user, err := h.users.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return metrics.ResultInvalid
		}
		h.logger.Error("Failed to look up user for password reset", zap.Error(err))
		return metrics.ResultError
	}
	if !user.IsActive || !user.HasUsablePassword() {
		return metrics.ResultInactive
	}

	token, err := h.tokens.GenerateToken(user)
	if err != nil {
		h.logger.Error("Failed to generate reset token", zap.Error(err))
		return metrics.ResultError
	}
	resetURL := h.cfg.BaseURL + "/accounts/password_reset/" + jwt.EncodeUID(user.ID) + "/" + token

	if err := h.mailer.SendPasswordReset(r.Context(), user, resetURL); err != nil {
		h.logger.Error("Failed to send password reset email",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		return metrics.ResultError
	}
	h.logger.Info("Password reset email sent", zap.String("user_id", user.ID.String()))
	return metrics.ResultSuccess
}

// PasswordResetDone подтверждает отправку письма
// GET /accounts/password_reset/done/
func (h *Handler) PasswordResetDone(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pagePasswordResetDone, "Password reset sent", nil)
}

// resetUser возвращает пользователя, если ссылка сброса действительна
func (h *Handler) resetUser(r *http.Request) *users.User {
	id, err := jwt.DecodeUID(chi.URLParam(r, "uidb64"))
	if err != nil {
		return nil
	}
	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, users.ErrUserNotFound) {
			h.logger.Error("Failed to load user for password reset", zap.Error(err))
		}
		return nil
	}
	if !h.tokens.CheckToken(user, chi.URLParam(r, "token")) {
		return nil
	}
	return user
}

// PasswordResetConfirm показывает форму нового пароля или сообщение о недействительной ссылке
// GET /accounts/password_reset/{uidb64}/{token}
func (h *Handler) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	user := h.resetUser(r)
	h.render(w, r, http.StatusOK, pagePasswordResetConfirm, "Enter new password", map[string]interface{}{
		"ValidLink": user != nil,
		"Form":      forms.NewSetPasswordForm(nil),
	})
}

// PasswordResetConfirmSubmit устанавливает новый пароль
// POST /accounts/password_reset/{uidb64}/{token}
func (h *Handler) PasswordResetConfirmSubmit(w http.ResponseWriter, r *http.Request) {
	user := h.resetUser(r)
	if user == nil {
		h.metrics.PasswordReset(resetStageConfirm, metrics.ResultInvalid)
		h.render(w, r, http.StatusOK, pagePasswordResetConfirm, "Password reset unsuccessful", map[string]interface{}{
			"ValidLink": false,
		})
		return
	}
	if !h.parseForm(w, r) {
		return
	}

	form := forms.NewSetPasswordForm(r.PostForm)
	if !form.Validate() {
		h.render(w, r, http.StatusOK, pagePasswordResetConfirm, "Enter new password", map[string]interface{}{
			"ValidLink": true,
			"Form":      form,
		})
		return
	}

	if err := h.users.SetPassword(r.Context(), user, form.Password()); err != nil {
		h.logger.Error("Failed to reset password", zap.Error(err))
		h.metrics.PasswordReset(resetStageConfirm, metrics.ResultError)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.metrics.PasswordReset(resetStageConfirm, metrics.ResultSuccess)
	h.logger.Info("Password reset completed", zap.String("user_id", user.ID.String()))
	h.redirect(w, r, "/accounts/password-reset-complete/")
}

// PasswordResetComplete сообщает об успешном сбросе
// GET /accounts/password-reset-complete/
func (h *Handler) PasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pagePasswordResetComplete, "Password reset complete", map[string]interface{}{
		"LoginURL": h.cfg.LoginURL,
	})
}

// PasswordChangePage показывает форму смены пароля
// GET /accounts/password_change/
func (h *Handler) PasswordChangePage(w http.ResponseWriter, r *http.Request) {
	form := forms.NewPasswordChangeForm(nil, nil)
	h.render(w, r, http.StatusOK, pagePasswordChange, "Password change", map[string]interface{}{"Form": form})
}

// PasswordChange меняет пароль и сохраняет текущую сессию
// POST /accounts/password_change/
func (h *Handler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.auth.RedirectToLogin(w, r)
		return
	}
	if !h.parseForm(w, r) {
		return
	}

	form := forms.NewPasswordChangeForm(r.PostForm, func(raw string) bool {
		return h.users.CheckPassword(user, raw)
	})
	if !form.Validate() {
		h.render(w, r, http.StatusOK, pagePasswordChange, "Password change", map[string]interface{}{"Form": form})
		return
	}

	if err := h.users.SetPassword(r.Context(), user, form.Password()); err != nil {
		h.logger.Error("Failed to change password", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.auth.UpdateSessionAuthHash(currentSession(r), user)
	h.logger.Info("Password changed", zap.String("user_id", user.ID.String()))
	h.redirect(w, r, "/accounts/password_change/done/")
}

// PasswordChangeDone подтверждает смену пароля
// GET /accounts/password_change/done/
func (h *Handler) PasswordChangeDone(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pagePasswordChangeDone, "Password change successful", nil)
}
