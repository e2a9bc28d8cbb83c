package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// Profile показывает учетную запись вошедшего пользователя и его семью
// GET /accounts/profile/
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.auth.RedirectToLogin(w, r)
		return
	}

	parents, children, err := h.users.Family(r.Context(), user)
	if err != nil {
		h.logger.Error("Failed to load family", zap.String("user_id", user.ID.String()), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.render(w, r, http.StatusOK, pageProfile, "Profile", map[string]interface{}{
		"Account":  user,
		"Parents":  parents,
		"Children": children,
	})
}
