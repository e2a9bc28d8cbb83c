package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Ultrahd-dev/student-accounts/internal/forms"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// UserTypePage показывает выбор роли
// GET /accounts/user_type/
func (h *Handler) UserTypePage(w http.ResponseWriter, r *http.Request) {
	form := forms.NewUserTypeForm(nil)
	h.render(w, r, http.StatusOK, pageUserType, "Select user type", map[string]interface{}{"Form": form})
}

// UserType сохраняет выбранную роль в сессии и переходит к регистрации
// POST /accounts/user_type/
func (h *Handler) UserType(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	form := forms.NewUserTypeForm(r.PostForm)
	if !form.Validate() {
		h.render(w, r, http.StatusOK, pageUserType, "Select user type", map[string]interface{}{"Form": form})
		return
	}

	currentSession(r).SetUserType(string(form.UserType()))
	h.redirect(w, r, "/accounts/registration/")
}

// registrationSchema выбирает набор полей по роли из сессии
func (h *Handler) registrationSchema(r *http.Request) (forms.Schema, users.UserType, error) {
	userType := users.UserType(currentSession(r).UserType)

	var parents []users.User
	if userType == users.UserTypeStudent {
		var err error
		parents, err = h.users.ParentChoices(r.Context())
		if err != nil {
			return forms.Schema{}, userType, err
		}
	}
	return forms.RegistrationSchemaFor(userType, parents), userType, nil
}

// RegistrationPage показывает форму регистрации
// GET /accounts/registration/
func (h *Handler) RegistrationPage(w http.ResponseWriter, r *http.Request) {
	schema, _, err := h.registrationSchema(r)
	if err != nil {
		h.logger.Error("Failed to load parent accounts", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := forms.NewRegistrationForm(schema, nil)
	h.render(w, r, http.StatusOK, pageRegistration, "Register", map[string]interface{}{"Form": form})
}

// Registration создает учетную запись
// POST /accounts/registration/
func (h *Handler) Registration(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	schema, userType, err := h.registrationSchema(r)
	if err != nil {
		h.logger.Error("Failed to load parent accounts", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := forms.NewRegistrationForm(schema, r.PostForm)
	user, err := form.Save(r.Context(), h.users, userType)
	if err != nil {
		status := http.StatusOK
		if !errors.Is(err, forms.ErrInvalid) {
			h.logger.Error("Failed to register user", zap.Error(err))
			form.Errors.Add(forms.NonField, "An unexpected error occurred. Please try again.")
			status = http.StatusInternalServerError
		}
		h.render(w, r, status, pageRegistration, "Register", map[string]interface{}{"Form": form})
		return
	}

	s := currentSession(r)
	s.ClearUserType()
	s.AddMessage(session.LevelSuccess, "Your account has been created. You can now log in.")
	h.metrics.Registration(string(userType))
	h.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("schema", schema.Name))

	h.redirect(w, r, h.cfg.LoginURL)
}
