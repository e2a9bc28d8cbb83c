package forms

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// DateLayout is the wire format of date inputs
const DateLayout = "2006-01-02"

// Fieldset groups change form fields under a heading
type Fieldset struct {
	Name   string
	Fields []Field
}

var optionalChoice = users.Choice{Value: "", Label: "---------"}

func withBlank(choices []users.Choice) []users.Choice {
	return append([]users.Choice{optionalChoice}, choices...)
}

// UserChangeFieldsets is the layout of the admin change page
var UserChangeFieldsets = []Fieldset{
	{Name: "User Credentials", Fields: []Field{
		{Name: "email", Label: "Email address", Type: "email", Required: true, MaxLength: 255},
		{Name: "password", Label: "Password", Type: "readonly",
			HelpText: "Raw passwords are not stored, so there is no way to see this user's password."},
		{Name: "user_hash", Label: "User hash", Type: "readonly"},
	}},
	{Name: "Personal info", Fields: []Field{
		{Name: "first_name", Label: "First name", Type: "text", Required: true, MaxLength: 30},
		{Name: "last_name", Label: "Last name", Type: "text", Required: true, MaxLength: 30},
		{Name: "username", Label: "Username", Type: "text", MaxLength: 30},
		{Name: "phone_number", Label: "Phone number", Type: "tel", Required: true, MaxLength: 10},
		{Name: "gender", Label: "Gender", Type: "select", Choices: withBlank(users.GenderChoices)},
		{Name: "date_of_birth", Label: "Date of birth", Type: "date"},
		{Name: "blood_group", Label: "Blood group", Type: "select", Choices: withBlank(users.BloodGroupChoices)},
	}},
	{Name: "Geolocation info", Fields: []Field{
		{Name: "city", Label: "City", Type: "text", MaxLength: 30},
		{Name: "state", Label: "State", Type: "text", MaxLength: 30},
		{Name: "country", Label: "Country", Type: "text", MaxLength: 30},
		{Name: "ip_address", Label: "IP address", Type: "text"},
	}},
	{Name: "Permissions", Fields: []Field{
		{Name: "is_active", Label: "Active", Type: "checkbox"},
		{Name: "is_superuser", Label: "Superuser status", Type: "checkbox"},
		{Name: "is_admin", Label: "Admin", Type: "checkbox"},
		{Name: "is_staff", Label: "Staff status", Type: "checkbox"},
		{Name: "is_student", Label: "Student", Type: "checkbox"},
		{Name: "is_parent", Label: "Parent", Type: "checkbox"},
	}},
}

// UserUpdater persists operator edits
type UserUpdater interface {
	UpdateUser(ctx context.Context, user *users.User) error
}

// UserChangeForm edits an existing account from the admin panel
type UserChangeForm struct {
	Form
	User *users.User
}

// NewUserChangeForm binds posted values, or the current account when values is nil.
// Read-only fields always show the stored data.
func NewUserChangeForm(user *users.User, values url.Values) *UserChangeForm {
	if values == nil {
		values = userValues(user)
	} else {
		cloned := make(url.Values, len(values))
		for k, v := range values {
			cloned[k] = append([]string(nil), v...)
		}
		values = cloned
	}
	values.Set("password", passwordSummary(user))
	values.Set("user_hash", user.UserHash)
	return &UserChangeForm{Form: newForm(values), User: user}
}

func userValues(u *users.User) url.Values {
	v := url.Values{}
	v.Set("email", u.Email)
	v.Set("first_name", u.FirstName)
	v.Set("last_name", u.LastName)
	v.Set("username", u.Username)
	v.Set("phone_number", u.PhoneNumber)
	v.Set("gender", string(u.Gender))
	if u.DateOfBirth != nil {
		v.Set("date_of_birth", u.DateOfBirth.Format(DateLayout))
	}
	v.Set("blood_group", string(u.BloodGroup))
	v.Set("city", u.City)
	v.Set("state", u.State)
	v.Set("country", u.Country)
	v.Set("ip_address", u.IPAddress)
	flags := map[string]bool{
		"is_active":    u.IsActive,
		"is_superuser": u.IsSuperuser,
		"is_admin":     u.IsAdmin,
		"is_staff":     u.IsStaff,
		"is_student":   u.IsStudent,
		"is_parent":    u.IsParent,
	}
	for name, on := range flags {
		if on {
			v.Set(name, "on")
		}
	}
	return v
}

func passwordSummary(u *users.User) string {
	if !u.HasUsablePassword() {
		return "No password set."
	}
	if i := strings.Index(u.PasswordHash[1:], "$"); i > 0 {
		return "algorithm: bcrypt " + u.PasswordHash[1:i+1]
	}
	return "algorithm: bcrypt"
}

// Fieldsets returns the grouped inputs
func (f *UserChangeForm) Fieldsets() []Fieldset {
	return UserChangeFieldsets
}

// Fields returns every input in fieldset order
func (f *UserChangeForm) Fields() []Field {
	var out []Field
	for _, fs := range UserChangeFieldsets {
		out = append(out, fs.Fields...)
	}
	return out
}

func (f *UserChangeForm) Validate() bool {
	for _, field := range f.Fields() {
		if field.Type == "readonly" || field.Type == "checkbox" {
			continue
		}

		v := strings.TrimSpace(f.Get(field.Name))
		f.Values.Set(field.Name, v)
		if v == "" {
			if field.Required {
				f.Errors.Add(field.Name, msgRequired)
			}
			continue
		}
		if field.MaxLength > 0 && !f.maxLength(field.Name, v, field.MaxLength) {
			continue
		}

		switch field.Type {
		case "email":
			f.email(field.Name, v)
		case "tel":
			if users.ValidatePhoneNumber(v) != nil {
				f.Errors.Add(field.Name, msgInvalidPhone)
			}
		case "select":
			if !users.IsChoice(field.Choices, v) {
				f.Errors.Add(field.Name, msgInvalidChoice)
			}
		case "date":
			if _, err := time.Parse(DateLayout, v); err != nil {
				f.Errors.Add(field.Name, "Enter a valid date.")
			}
		}
		if field.Name == "ip_address" && net.ParseIP(v) == nil {
			f.Errors.Add(field.Name, "Enter a valid IPv4 or IPv6 address.")
		}
	}
	return f.Valid()
}

// apply copies the validated values onto a copy of the account
func (f *UserChangeForm) apply() *users.User {
	u := *f.User
	u.Email = f.Get("email")
	u.FirstName = f.Get("first_name")
	u.LastName = f.Get("last_name")
	u.Username = f.Get("username")
	u.PhoneNumber = f.Get("phone_number")
	u.Gender = users.Gender(f.Get("gender"))
	u.DateOfBirth = nil
	if dob, err := time.Parse(DateLayout, f.Get("date_of_birth")); err == nil {
		u.DateOfBirth = &dob
	}
	u.BloodGroup = users.BloodGroup(f.Get("blood_group"))
	u.City = f.Get("city")
	u.State = f.Get("state")
	u.Country = f.Get("country")
	u.IPAddress = f.Get("ip_address")

	u.IsActive = f.checked("is_active")
	u.IsSuperuser = f.checked("is_superuser")
	u.IsAdmin = f.checked("is_admin")
	u.IsStaff = f.checked("is_staff")
	u.IsStudent = f.checked("is_student")
	u.IsParent = f.checked("is_parent")
	return &u
}

func (f *UserChangeForm) checked(name string) bool {
	v := f.Get(name)
	return v != "" && v != "off" && v != "false"
}

// Save validates and stores the edited account
func (f *UserChangeForm) Save(ctx context.Context, updater UserUpdater) (*users.User, error) {
	if !f.Validate() {
		return nil, ErrInvalid
	}

	user := f.apply()
	err := updater.UpdateUser(ctx, user)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, users.ErrEmailTaken):
		f.Errors.Add("email", "User with this Email address already exists.")
	case errors.Is(err, users.ErrPhoneTaken):
		f.Errors.Add("phone_number", "User with this Phone number already exists.")
	case errors.Is(err, users.ErrUserHashImmutable):
		f.Errors.Add(NonField, "The user hash cannot be changed.")
	default:
		return nil, err
	}
	return nil, ErrInvalid
}

// UserCreator creates accounts from the admin panel
type UserCreator interface {
	CreateUser(ctx context.Context, input users.CreateUserInput) (*users.User, error)
}

// UserAddForm creates an account from the admin panel
type UserAddForm struct {
	Form
}

func NewUserAddForm(values url.Values) *UserAddForm {
	return &UserAddForm{Form: newForm(values)}
}

var userAddFields = []Field{
	{Name: "email", Label: "Email address", Type: "email", Required: true, MaxLength: 255},
	{Name: "first_name", Label: "First name", Type: "text", Required: true, MaxLength: 30},
	{Name: "last_name", Label: "Last name", Type: "text", Required: true, MaxLength: 30},
	{Name: "phone_number", Label: "Phone number", Type: "tel", Required: true, MaxLength: 10},
	{Name: "password1", Label: "Password", Type: "password", Required: true},
	{Name: "password2", Label: "Password confirmation", Type: "password", Required: true},
}

func (f *UserAddForm) Fields() []Field {
	return userAddFields
}

func (f *UserAddForm) Validate() bool {
	for _, field := range userAddFields {
		v, ok := f.required(field.Name, field.Type != "password")
		if !ok {
			continue
		}
		if field.MaxLength > 0 && !f.maxLength(field.Name, v, field.MaxLength) {
			continue
		}
		switch field.Name {
		case "email":
			f.email(field.Name, v)
		case "phone_number":
			if users.ValidatePhoneNumber(v) != nil {
				f.Errors.Add(field.Name, msgInvalidPhone)
			}
		}
	}

	p1, p2 := f.Get("password1"), f.Get("password2")
	if p1 != "" && p2 != "" && p1 != p2 {
		f.Errors.Add("password2", "Passwords don't match")
	} else {
		f.passwordTooLong("password2", p2)
	}
	return f.Valid()
}

// Save validates and creates the account through the account factory
func (f *UserAddForm) Save(ctx context.Context, creator UserCreator) (*users.User, error) {
	if !f.Validate() {
		return nil, ErrInvalid
	}

	user, err := creator.CreateUser(ctx, users.CreateUserInput{
		Email:       f.Get("email"),
		FirstName:   f.Get("first_name"),
		LastName:    f.Get("last_name"),
		PhoneNumber: f.Get("phone_number"),
		Password:    f.Get("password1"),
	})
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, users.ErrEmailTaken):
		f.Errors.Add("email", "User with this Email address already exists.")
	case errors.Is(err, users.ErrPhoneTaken):
		f.Errors.Add("phone_number", "User with this Phone number already exists.")
	case errors.Is(err, users.ErrPasswordTooLong):
		f.Errors.Add("password2", msgPasswordTooLong)
	default:
		return nil, err
	}
	return nil, ErrInvalid
}
