// Package web renders server-side HTML pages on top of a shared layout.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/Ultrahd-dev/student-accounts/internal/auth"
	"github.com/Ultrahd-dev/student-accounts/internal/forms"
	"github.com/Ultrahd-dev/student-accounts/internal/session"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
)

//go:embed templates/*.html
var layoutFS embed.FS

// Page is the data passed to every template
type Page struct {
	Title string
	Data  map[string]interface{}

	// filled by Render
	SiteName  string
	User      *users.User
	CSRFToken string
	Messages  []session.Message
}

// FieldView is one rendered form input
type FieldView struct {
	Field  forms.Field
	Value  string
	Errors []string
}

// boundForm is satisfied by every form type through the embedded forms.Form
type boundForm interface {
	Get(field string) string
	FieldErrors(field string) []string
}

var funcs = template.FuncMap{
	"field": func(f forms.Field, form boundForm) FieldView {
		v := FieldView{Field: f, Errors: form.FieldErrors(f.Name)}
		if f.Type != "password" {
			v.Value = form.Get(f.Name)
		}
		return v
	},
	"errors": func(form boundForm, name string) []string {
		return form.FieldErrors(name)
	},
	"yesno": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
	"join": strings.Join,
}

// Renderer holds one parsed template set per page
type Renderer struct {
	siteName string
	pages    map[string]*template.Template
}

// NewRenderer parses the layout together with every named page from pages
func NewRenderer(siteName string, pages fs.FS, names ...string) (*Renderer, error) {
	r := &Renderer{siteName: siteName, pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		t, err := template.New(name).Funcs(funcs).ParseFS(layoutFS, "templates/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout: %w", err)
		}
		if t, err = t.ParseFS(pages, name); err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render executes the page into a buffer first, so the session is committed only after
// the CSRF token and flash messages have been consumed.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, page Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %s", name)
	}

	s := session.FromContext(req.Context())
	page.SiteName = r.siteName
	page.CSRFToken = s.CSRF()
	page.Messages = s.PopMessages()
	if user, ok := auth.UserFromContext(req.Context()); ok {
		page.User = user
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", page); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
