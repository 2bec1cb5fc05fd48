// Package web embeds the landing page template and its static assets.
package web

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"net/http"
)

//go:embed templates static
var files embed.FS

var indexTemplate = template.Must(template.ParseFS(files, "templates/index.html"))

// IndexData is the data available to the landing page template.
type IndexData struct {
	ServiceName string
}

// RenderIndex writes the landing page.
func RenderIndex(w io.Writer, data IndexData) error {
	return indexTemplate.Execute(w, data)
}

// StaticHandler serves the embedded static directory. Mount it behind
// http.StripPrefix.
func StaticHandler() http.Handler {
	static, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(static))
}
