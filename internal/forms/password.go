package forms

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// MinPasswordLength is enforced on every newly chosen password
const MinPasswordLength = 8

var msgPasswordTooLong = fmt.Sprintf(
	"This password is too long. It must contain at most %d bytes.", users.MaxPasswordBytes)

// passwordTooLong adds a field error when bcrypt would refuse the password
func (f *Form) passwordTooLong(field, password string) bool {
	if len(password) <= users.MaxPasswordBytes {
		return false
	}
	f.Errors.Add(field, msgPasswordTooLong)
	return true
}

// ValidatePassword returns the messages of every failed password rule
func ValidatePassword(password string) []string {
	var msgs []string
	if len(password) > users.MaxPasswordBytes {
		msgs = append(msgs, msgPasswordTooLong)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		msgs = append(msgs, fmt.Sprintf(
			"This password is too short. It must contain at least %d characters.", MinPasswordLength))
	}
	if isNumeric(password) {
		msgs = append(msgs, "This password is entirely numeric.")
	}
	return msgs
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

// PasswordResetForm asks for the email of the account to recover
type PasswordResetForm struct {
	Form
}

func NewPasswordResetForm(values url.Values) *PasswordResetForm {
	return &PasswordResetForm{Form: newForm(values)}
}

func (f *PasswordResetForm) Fields() []Field {
	return []Field{{Name: "email", Label: "Email", Type: "email", Required: true, MaxLength: 254}}
}

func (f *PasswordResetForm) Validate() bool {
	if v, ok := f.required("email", true); ok && f.maxLength("email", v, 254) {
		f.email("email", v)
	}
	return f.Valid()
}

// Email returns the submitted address
func (f *PasswordResetForm) Email() string {
	return f.Get("email")
}

// SetPasswordForm chooses a new password without knowing the old one
type SetPasswordForm struct {
	Form
}

func NewSetPasswordForm(values url.Values) *SetPasswordForm {
	return &SetPasswordForm{Form: newForm(values)}
}

var setPasswordFields = []Field{
	{Name: "new_password1", Label: "New password", Type: "password", Required: true,
		HelpText: "Your password must contain at least 8 characters and can't be entirely numeric."},
	{Name: "new_password2", Label: "New password confirmation", Type: "password", Required: true},
}

func (f *SetPasswordForm) Fields() []Field {
	return setPasswordFields
}

func (f *SetPasswordForm) Validate() bool {
	p1, ok1 := f.required("new_password1", false)
	p2, ok2 := f.required("new_password2", false)
	if !ok1 || !ok2 {
		return false
	}
	if p1 != p2 {
		f.Errors.Add("new_password2", "The two password fields didn't match.")
		return false
	}
	for _, msg := range ValidatePassword(p2) {
		f.Errors.Add("new_password2", msg)
	}
	return f.Valid()
}

// Password returns the confirmed new password
func (f *SetPasswordForm) Password() string {
	return f.Get("new_password1")
}

// PasswordChangeForm is SetPasswordForm plus verification of the current password
type PasswordChangeForm struct {
	SetPasswordForm
	checkOld func(raw string) bool
}

// NewPasswordChangeForm builds the form; checkOld verifies the current password
func NewPasswordChangeForm(values url.Values, checkOld func(raw string) bool) *PasswordChangeForm {
	return &PasswordChangeForm{SetPasswordForm: *NewSetPasswordForm(values), checkOld: checkOld}
}

func (f *PasswordChangeForm) Fields() []Field {
	old := Field{Name: "old_password", Label: "Old password", Type: "password", Required: true}
	return append([]Field{old}, setPasswordFields...)
}

func (f *PasswordChangeForm) Validate() bool {
	if old, ok := f.required("old_password", false); ok && !f.checkOld(old) {
		f.Errors.Add("old_password", "Your old password was entered incorrectly. Please enter it again.")
	}
	f.SetPasswordForm.Validate()
	return f.Valid()
}
