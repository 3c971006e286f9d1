// Package web serves the operator dashboard. A built-in single-page view is
// embedded in the binary; pointing Dir at a directory overrides it with
// custom assets.
package web

import (
	"bytes"
	"embed"
	"net/http"
	"os"
	"time"
)

//go:embed dashboard.html
var builtin embed.FS

type Server struct {
	// Dir, when it names an existing directory, is served instead of the
	// embedded dashboard.
	Dir string
}

func (s *Server) Handler() http.Handler {
	if s.Dir != "" {
		if info, err := os.Stat(s.Dir); err == nil && info.IsDir() {
			return noCache(http.FileServer(http.Dir(s.Dir)))
		}
	}
	page, err := builtin.ReadFile("dashboard.html")
	if err != nil {
		panic(err)
	}
	started := time.Now()
	return noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" && r.URL.Path != "/dashboard.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, "dashboard.html", started, bytes.NewReader(page))
	}))
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}
