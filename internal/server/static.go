package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// fileServer serves fsys. Missing files, and directories without an
// index.html, get the not-found page instead of a listing.
func fileServer(fsys fs.FS, notFound http.Handler) http.Handler {
	files := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}

		info, err := fs.Stat(fsys, name)
		if err != nil {
			notFound.ServeHTTP(w, r)
			return
		}
		if info.IsDir() {
			if _, err := fs.Stat(fsys, path.Join(name, "index.html")); err != nil {
				notFound.ServeHTTP(w, r)
				return
			}
		}

		files.ServeHTTP(w, r)
	})
}

// notFoundPage writes page from fsys with a 404 status.
func notFoundPage(fsys fs.FS, page string) http.Handler {
	body, err := fs.ReadFile(fsys, page)
	if err != nil {
		body = []byte("404 page not found")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write(body)
	})
}
