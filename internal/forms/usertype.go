package forms

import (
	"net/url"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// UserTypeForm is the role selection step before registration
type UserTypeForm struct {
	Form
	Choices []users.Choice
}

func NewUserTypeForm(values url.Values) *UserTypeForm {
	return &UserTypeForm{Form: newForm(values), Choices: users.UserTypeChoices}
}

// Validate checks that select_type is one of the offered roles
func (f *UserTypeForm) Validate() bool {
	v, ok := f.required("select_type", true)
	if ok && !users.IsChoice(f.Choices, v) {
		f.Errors.Add("select_type", msgInvalidChoice)
	}
	return f.Valid()
}

// Fields returns the inputs rendered for the form
func (f *UserTypeForm) Fields() []Field {
	return []Field{{Name: "select_type", Label: "User Type", Type: "select", Required: true, Choices: f.Choices}}
}

// UserType returns the selected role; call only after Validate
func (f *UserTypeForm) UserType() users.UserType {
	return users.UserType(f.Get("select_type"))
}
