package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/ImageDrop/internal/apierr"
)

var galleryTmpl = template.Must(template.New("gallery").Parse(
	`{{range .}}<a href="/static/{{.Name}}" target="_blank"><img style="padding: 0.2rem;max-width: calc(100vw - 16px - 0.2rem);max-height: 135px;" src="{{.Src}}"/></a>{{end}}`,
))

type galleryItem struct {
	Name string
	Src  string
}

// GalleryLister is the read side of storage the gallery renders from.
type GalleryLister interface {
	ListOriginals() ([]string, error)
	PreviewExists(name string) bool
}

// handleList renders one link per stored original in name order. An
// original whose preview is missing is shown full size.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.gallery.ListOriginals()
	if err != nil {
		s.logger.Error("failed to list assets", zap.Error(err))
		render.Render(w, r, apierr.ErrInternalServerError(err))
		return
	}

	items := make([]galleryItem, 0, len(names))
	for _, name := range names {
		item := galleryItem{Name: name, Src: "/static/preview/" + name}
		if !s.gallery.PreviewExists(name) {
			s.logger.Warn("preview missing, falling back to original", zap.String("asset", name))
			item.Src = "/static/" + name
		}
		items = append(items, item)
	}

	var buf bytes.Buffer
	if err := galleryTmpl.Execute(&buf, items); err != nil {
		render.Render(w, r, apierr.ErrInternalServerError(fmt.Errorf("render gallery: %w", err)))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
