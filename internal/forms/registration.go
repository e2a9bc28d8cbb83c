package forms

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

// Schema names
const (
	SchemaBase       = "base"
	SchemaBaseParent = "base+parent"
)

const ParentField = "parent_user"

// Field describes one input of a form schema
type Field struct {
	Name      string
	Label     string
	Type      string // input type, or "select"
	Required  bool
	MaxLength int
	HelpText  string
	Choices   []users.Choice
}

// Schema is the ordered field set of a form variant
type Schema struct {
	Name   string
	Fields []Field
}

// Has reports whether the schema contains a field
func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func baseFields() []Field {
	return []Field{
		{Name: "email", Label: "Email address", Type: "email", Required: true, MaxLength: 255},
		{Name: "first_name", Label: "First name", Type: "text", Required: true, MaxLength: 30},
		{Name: "last_name", Label: "Last name", Type: "text", Required: true, MaxLength: 30},
		{Name: "phone_number", Label: "Phone number", Type: "tel", Required: true, MaxLength: 10},
		{Name: "password1", Label: "Password", Type: "password", Required: true},
		{Name: "password2", Label: "Confirm password", Type: "password", Required: true,
			HelpText: "Enter the same password as above, for verification."},
	}
}

// RegistrationSchemaFor picks the registration schema for the role kept in the session.
// The parent selector is added only for students when parent accounts exist.
func RegistrationSchemaFor(userType users.UserType, parents []users.User) Schema {
	if userType != users.UserTypeStudent || len(parents) == 0 {
		return Schema{Name: SchemaBase, Fields: baseFields()}
	}

	choices := make([]users.Choice, 0, len(parents)+1)
	choices = append(choices, users.Choice{Value: "", Label: "Select Parent"})
	for _, p := range parents {
		choices = append(choices, users.Choice{Value: p.ID.String(), Label: p.Email})
	}

	fields := append(baseFields(), Field{
		Name:     ParentField,
		Label:    "Select Parent",
		Type:     "select",
		Required: true,
		Choices:  choices,
	})
	return Schema{Name: SchemaBaseParent, Fields: fields}
}

// Registrar persists a validated registration
type Registrar interface {
	Register(ctx context.Context, input users.RegisterInput) (*users.User, error)
}

// RegistrationForm is the account creation form
type RegistrationForm struct {
	Form
	Schema Schema
}

func NewRegistrationForm(schema Schema, values url.Values) *RegistrationForm {
	return &RegistrationForm{Form: newForm(values), Schema: schema}
}

// Fields returns the inputs of the selected schema
func (f *RegistrationForm) Fields() []Field {
	return f.Schema.Fields
}

// Validate runs field checks in schema order
func (f *RegistrationForm) Validate() bool {
	for _, field := range f.Schema.Fields {
		// passwords are not stripped
		strip := field.Type != "password"
		v, ok := f.required(field.Name, strip)
		if !ok {
			continue
		}
		if field.MaxLength > 0 && !f.maxLength(field.Name, v, field.MaxLength) {
			continue
		}

		switch field.Name {
		case "email":
			if f.email(field.Name, v) {
				// the whole address is lowercased, not only the domain
				f.Values.Set("email", strings.ToLower(v))
			}
		case "phone_number":
			if users.ValidatePhoneNumber(v) != nil {
				f.Errors.Add(field.Name, msgInvalidPhone)
			}
		case ParentField:
			if !users.IsChoice(field.Choices, v) {
				f.Errors.Add(field.Name, msgInvalidChoice)
			}
		}
	}

	p1, p2 := f.Get("password1"), f.Get("password2")
	if p1 != "" && p2 != "" && p1 != p2 {
		f.Errors.Add("password2", "Passwords do not match")
	} else {
		f.passwordTooLong("password2", p2)
	}
	return f.Valid()
}

// Save validates and registers the account with the given role.
// Store conflicts are turned into field errors and reported as ErrInvalid.
func (f *RegistrationForm) Save(ctx context.Context, registrar Registrar, userType users.UserType) (*users.User, error) {
	if !f.Validate() {
		return nil, ErrInvalid
	}

	input := users.RegisterInput{
		Email:       f.Get("email"),
		FirstName:   f.Get("first_name"),
		LastName:    f.Get("last_name"),
		PhoneNumber: f.Get("phone_number"),
		Password:    f.Get("password1"),
		UserType:    userType,
	}
	if f.Schema.Has(ParentField) {
		parentID, err := uuid.Parse(f.Get(ParentField))
		if err != nil {
			f.Errors.Add(ParentField, msgInvalidChoice)
			return nil, ErrInvalid
		}
		input.ParentID = &parentID
	}

	user, err := registrar.Register(ctx, input)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, users.ErrEmailTaken):
		f.Errors.Add("email", "User with this Email address already exists.")
	case errors.Is(err, users.ErrPhoneTaken):
		f.Errors.Add("phone_number", "User with this Phone number already exists.")
	case errors.Is(err, users.ErrInvalidPhone):
		f.Errors.Add("phone_number", msgInvalidPhone)
	case errors.Is(err, users.ErrParentNotFound):
		f.Errors.Add(ParentField, msgInvalidChoice)
	case errors.Is(err, users.ErrEmailRequired):
		f.Errors.Add("email", msgRequired)
	case errors.Is(err, users.ErrPasswordTooLong):
		f.Errors.Add("password2", msgPasswordTooLong)
	default:
		return nil, err
	}
	return nil, ErrInvalid
}
