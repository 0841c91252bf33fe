package server

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed ui
var uiFiles embed.FS

// newUIHandler serves the embedded single-page console. Unknown paths fall
// back to the index page.
func newUIHandler(opts Options) (http.Handler, error) {
	sub, err := fs.Sub(uiFiles, "ui")
	if err != nil {
		return nil, err
	}
	index, err := renderIndex(sub, opts)
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == "." || name == "index.html" {
			serveIndex(w, index)
			return
		}
		if _, err := fs.Stat(sub, name); err != nil {
			serveIndex(w, index)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}

func renderIndex(fsys fs.FS, opts Options) ([]byte, error) {
	tmpl, err := template.ParseFS(fsys, "index.html")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	data := struct {
		Title string
		Baud  int
		TopN  int
	}{Title: opts.Title, Baud: opts.DefaultBaud, TopN: opts.TopN}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func serveIndex(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
