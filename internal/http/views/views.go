// Package views renders the server-side wizard page.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"tryon/internal/upload"
)

//go:embed templates/*.html
var files embed.FS

// WizardPage is the data the wizard template renders. T translates copy into
// the page locale.
type WizardPage struct {
	Lang      string
	T         func(string) string
	SessionID string
	Step      string

	Product upload.SlotView
	Model   upload.SlotView

	// Error is the wizard's stored failure text; Notice is a one-shot upload
	// problem carried over the redirect.
	Error  string
	Notice string

	CanAdvance  bool
	CanGenerate bool
	ResultURL   string
	// RefreshSeconds reloads the page while a generation is running.
	RefreshSeconds int
}

// ActionURL returns the form target for a wizard action.
func (p WizardPage) ActionURL(action string) string {
	return fmt.Sprintf("/wizard/%s/%s", p.SessionID, action)
}

// SlotForm pairs a slot with the page it is rendered on.
type SlotForm struct {
	Page WizardPage
	Slot upload.SlotView
}

func slotForm(page WizardPage, slot upload.SlotView) SlotForm {
	return SlotForm{Page: page, Slot: slot}
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"imageURL": imageURL,
		"slotForm": slotForm,
	}).ParseFS(files, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("views: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for callers that cannot recover from a broken build.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Wizard renders the page for the current step.
func (r *Renderer) Wizard(w io.Writer, page WizardPage) error {
	if page.T == nil {
		page.T = func(key string) string { return key }
	}
	if page.Lang == "" {
		page.Lang = "en"
	}
	return r.tmpl.ExecuteTemplate(w, "wizard.html", page)
}

// imageURL lets inline image previews through html/template's URL filter.
// Anything other than a data:image/ URL or a same-origin path is dropped.
func imageURL(s string) template.URL {
	switch {
	case strings.HasPrefix(s, "data:image/"):
		return template.URL(s)
	case strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//"):
		return template.URL(s)
	default:
		return ""
	}
}
