package main

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed web/index.html
var embeddedFiles embed.FS

// handleIndex serves the upload page.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(embeddedFiles, "web/index.html")
	if err != nil {
		http.Error(w, "page not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}
