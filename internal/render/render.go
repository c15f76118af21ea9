// Package render maps a message sequence to display rows and renders the
// HTML pages of the web client.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/samber/lo"
)

//go:embed templates
var templateFS embed.FS

// Row is one rendered message. Mine is presentation only.
type Row struct {
	Index     int       `json:"index"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Mine      bool      `json:"mine"`
}

// Rows returns one row per message, in the order given.
func Rows(messages []types.Message, self types.Identity) []Row {
	return lo.Map(messages, func(m types.Message, _ int) Row {
		return Row{
			Index:     m.Index,
			Author:    m.Author,
			Body:      m.Body,
			Timestamp: m.Timestamp,
			Mine:      m.Author == self.Email,
		}
	})
}

type EntryPage struct {
	Email  string
	Room   string
	Errors map[string]string
}

type ChatPage struct {
	Email string
	Room  string
	Rows  []Row
}

type Templates struct {
	pages map[string]*template.Template
	rows  *template.Template
}

var funcs = template.FuncMap{
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("15:04")
	},
}

func NewTemplates() (*Templates, error) {
	t := &Templates{pages: make(map[string]*template.Template)}

	pages, err := fs.Glob(templateFS, "templates/pages/*.tmpl")
	if err != nil {
		return nil, err
	}

	for _, page := range pages {
		name := path.Base(page)
		patterns := []string{
			"templates/base.html.tmpl",
			"templates/partials/*.tmpl",
			page,
		}

		ts, err := template.New(name).Funcs(funcs).ParseFS(templateFS, patterns...)
		if err != nil {
			return nil, err
		}

		t.pages[name] = ts
	}

	rows, err := template.New("partials").Funcs(funcs).ParseFS(templateFS, "templates/partials/*.tmpl")
	if err != nil {
		return nil, err
	}
	t.rows = rows

	return t, nil
}

// Render executes the named page into w. The page is rendered into a buffer
// first so a template error never produces a partial response.
func (t *Templates) Render(w io.Writer, page string, data any) error {
	ts, ok := t.pages[page]
	if !ok {
		return fmt.Errorf("template %q not in cache", page)
	}

	var buf bytes.Buffer
	if err := ts.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}

	_, err := buf.WriteTo(w)
	return err
}

// RenderRows renders the message list fragment shown inside the chat page.
func (t *Templates) RenderRows(rows []Row) (string, error) {
	var buf bytes.Buffer
	if err := t.rows.ExecuteTemplate(&buf, "rows", rows); err != nil {
		return "", fmt.Errorf("render rows: %w", err)
	}
	return buf.String(), nil
}
