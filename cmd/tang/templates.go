package main

import (
	"embed"
	"io"
	"text/template"

	"github.com/Masterminds/sprig"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("base").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"))

func render(w io.Writer, name string, data any) error {
	return templates.ExecuteTemplate(w, name, data)
}
