// Package forms binds and validates the HTML forms of the account pages.
package forms

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// NonField is the error key for errors not tied to a single field
const NonField = "__all__"

// ErrInvalid is returned by Save methods when the submitted data failed validation
var ErrInvalid = errors.New("form is invalid")

const (
	msgRequired      = "This field is required."
	msgInvalidEmail  = "Enter a valid email address."
	msgInvalidPhone  = "Enter a valid phone number."
	msgInvalidChoice = "Select a valid choice. That choice is not one of the available choices."
)

// Errors maps a field name to its validation messages
type Errors map[string][]string

// Add appends a message to a field
func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Get returns the first message of a field
func (e Errors) Get(field string) string {
	if msgs := e[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// NonField returns the errors not tied to a field
func (e Errors) NonField() []string {
	return e[NonField]
}

func (e Errors) Any() bool {
	return len(e) > 0
}

// Form holds submitted values and the errors found in them
type Form struct {
	Values url.Values
	Errors Errors
}

func newForm(values url.Values) Form {
	if values == nil {
		values = url.Values{}
	}
	return Form{Values: values, Errors: Errors{}}
}

// Get returns the submitted value of a field
func (f *Form) Get(field string) string {
	return f.Values.Get(field)
}

// FieldErrors returns every message of a field
func (f *Form) FieldErrors(field string) []string {
	return f.Errors[field]
}

// Valid reports whether validation found no errors
func (f *Form) Valid() bool {
	return !f.Errors.Any()
}

// required checks presence; a stripped value is written back to Values
func (f *Form) required(field string, strip bool) (string, bool) {
	v := f.Values.Get(field)
	if strip {
		v = strings.TrimSpace(v)
		f.Values.Set(field, v)
	}
	if v == "" {
		f.Errors.Add(field, msgRequired)
		return "", false
	}
	return v, true
}

func (f *Form) maxLength(field, value string, limit int) bool {
	if n := utf8.RuneCountInString(value); n > limit {
		f.Errors.Add(field, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", limit, n))
		return false
	}
	return true
}

func (f *Form) email(field, value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || !strings.Contains(value[strings.LastIndex(value, "@")+1:], ".") {
		f.Errors.Add(field, msgInvalidEmail)
		return false
	}
	return true
}
