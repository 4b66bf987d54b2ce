package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"github.com/meridianweb/siteops/internal/content"
)

// API serves the minimal public read surface the response cache fronts:
// published list and detail endpoints per collection plus the aggregate
// stats route. Writes belong to the CMS and are not served here.
type API struct {
	repo   *content.Repository
	logger *slog.Logger
}

// NewAPI wraps the content repository.
func NewAPI(repo *content.Repository, logger *slog.Logger) *API {
	return &API{repo: repo, logger: logger}
}

// Handler returns the API route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/blogs", func(w http.ResponseWriter, r *http.Request) {
		var posts []content.BlogPost
		a.list(w, r, &posts)
	})
	mux.HandleFunc("GET /api/blogs/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var post content.BlogPost
		a.detail(w, r, &post)
	})
	mux.HandleFunc("GET /api/projects", func(w http.ResponseWriter, r *http.Request) {
		var projects []content.Project
		a.list(w, r, &projects)
	})
	mux.HandleFunc("GET /api/projects/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var project content.Project
		a.detail(w, r, &project)
	})
	mux.HandleFunc("GET /api/services", func(w http.ResponseWriter, r *http.Request) {
		var services []content.Service
		a.list(w, r, &services)
	})
	mux.HandleFunc("GET /api/services/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var service content.Service
		a.detail(w, r, &service)
	})
	mux.HandleFunc("GET /api/team", func(w http.ResponseWriter, r *http.Request) {
		var members []content.TeamMember
		a.list(w, r, &members)
	})
	mux.HandleFunc("GET /api/team/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var member content.TeamMember
		a.detail(w, r, &member)
	})
	mux.HandleFunc("GET /api/construction-services", func(w http.ResponseWriter, r *http.Request) {
		var services []content.ConstructionService
		a.list(w, r, &services)
	})
	mux.HandleFunc("GET /api/construction-services/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var service content.ConstructionService
		a.detail(w, r, &service)
	})
	mux.HandleFunc("GET /api/stats", a.stats)

	return mux
}

func (a *API) list(w http.ResponseWriter, r *http.Request, dest any) {
	if err := a.repo.ListPublished(r.Context(), dest); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

func (a *API) detail(w http.ResponseWriter, r *http.Request, dest any) {
	err := a.repo.FindBySlug(r.Context(), r.PathValue("slug"), dest)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

// stats reports per-collection published document counts. It changes with
// every publish, hence its short TTL class in the default cache rules.
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, collection := range content.Collections() {
		slugs, err := a.repo.PublishedSlugs(r.Context(), collection)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		counts[collection.Name] = len(slugs)
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("content query failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
