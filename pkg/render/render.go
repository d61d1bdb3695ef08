// Package render turns monitoring history into Markdown using templates
// embedded in the binary.
package render

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/template"
)

// HistoryTemplate renders an export: an ID, a CreatedAt time, an optional
// Key and the Entries, each with Timestamp, Key, ID, Added and Removed.
const HistoryTemplate = "history.md.tmpl"

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Templates is the parsed set of embedded templates.
type Templates struct {
	set *template.Template
}

// Load parses every embedded template.
func Load() (*Templates, error) {
	set, err := template.New("render").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Templates{set: set}, nil
}

// Execute writes the named template applied to data to w.
func (t *Templates) Execute(w io.Writer, name string, data any) error {
	if t == nil || t.set == nil {
		return fmt.Errorf("nil templates")
	}
	if t.set.Lookup(name) == nil {
		return fmt.Errorf("unknown template %q", name)
	}
	return t.set.ExecuteTemplate(w, name, data)
}

var loadOnce = sync.OnceValues(Load)

// History writes the Markdown history of data to w.
func History(w io.Writer, data any) error {
	t, err := loadOnce()
	if err != nil {
		return err
	}
	return t.Execute(w, HistoryTemplate, data)
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	},
}
