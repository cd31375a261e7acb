package poc

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// tsString quotes s as a TypeScript string literal.
func tsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// comment flattens s onto one line for a // comment.
func comment(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var funcs = template.FuncMap{
	"quote":   tsString,
	"comment": comment,
}

// templates holds one parsed set per detector: the shared file layout plus
// the detector's exploit body.
var templates = func() map[string]*template.Template {
	base := template.Must(template.New("base.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/base.tmpl"))
	out := make(map[string]*template.Template, len(scenarios))
	for id := range scenarios {
		t := template.Must(base.Clone())
		out[id] = template.Must(t.ParseFS(templateFS, "templates/"+strings.ToLower(id)+".tmpl"))
	}
	return out
}()
