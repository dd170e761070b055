// Package templates renders the default body of a new artifact when the
// caller supplies no content.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed files/*.md.tmpl
var files embed.FS

// Template names.
const (
	Scratchpad = "scratchpad.md.tmpl"
	Plan       = "plan.md.tmpl"
	Progress   = "progress.md.tmpl"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Data is what every artifact template can reference.
type Data struct {
	Task      string
	SessionID string
	Created   string
}

// NewData fills Data with the current time.
func NewData(task, sessionID string) Data {
	return Data{
		Task:      task,
		SessionID: sessionID,
		Created:   timeNow().Format("2006-01-02 15:04:05"),
	}
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Option("missingkey=error").ParseFS(files, "files/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the named template.
func (r *Renderer) Render(name string, data Data) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// MustRender is Render for templates known to be valid. It panics on error.
func (r *Renderer) MustRender(name string, data Data) string {
	out, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return out
}
