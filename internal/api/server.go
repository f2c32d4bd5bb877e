package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fwextensions/sf-pools/internal/dataset"
	"github.com/fwextensions/sf-pools/internal/domain"
)

// RunLister lists recorded pipeline runs
type RunLister interface {
	ListRuns(limit int) ([]domain.RunRecord, error)
}

// Server serves the published dataset read-only
type Server struct {
	dataset *dataset.Store
	runs    RunLister
	metrics http.Handler
	addr    string
	logger  *slog.Logger
}

// New creates a new API server. metrics may be nil.
func New(ds *dataset.Store, runs RunLister, metrics http.Handler, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{dataset: ds, runs: runs, metrics: metrics, addr: addr, logger: logger}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/health", s.health)
	r.Get("/facilities", s.listFacilities)
	r.Get("/facilities/{id}", s.getFacility)
	r.Get("/changelogs", s.listChangelogs)
	r.Get("/changelogs/{name}", s.getChangelog)
	r.Get("/runs", s.listRuns)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	return r
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS lets the schedule viewer read the API from another origin
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listFacilities returns the aggregate, optionally narrowed to programs
// matching ?category= and ?day=
func (s *Server) listFacilities(w http.ResponseWriter, r *http.Request) {
	records, _, err := s.dataset.LoadAggregate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	category := r.URL.Query().Get("category")
	day := r.URL.Query().Get("day")
	if category == "" && day == "" {
		writeJSON(w, http.StatusOK, records)
		return
	}

	filtered := []domain.Facility{}
	for _, f := range records {
		var programs []domain.Program
		for _, p := range f.Programs {
			if category != "" && !strings.EqualFold(p.Category, category) {
				continue
			}
			if day != "" && !strings.EqualFold(p.DayOfWeek, day) {
				continue
			}
			programs = append(programs, p)
		}
		if len(programs) > 0 {
			f.Programs = programs
			filtered = append(filtered, f)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) getFacility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, _, err := s.dataset.LoadAggregate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, f := range records {
		if f.ID != "" && f.ID == id {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	writeError(w, http.StatusNotFound, "facility not found")
}

func (s *Server) listChangelogs(w http.ResponseWriter, r *http.Request) {
	names, err := s.dataset.ListChangelogs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changelogs": names,
	})
}

func (s *Server) getChangelog(w http.ResponseWriter, r *http.Request) {
	cl, err := s.dataset.ReadChangelog(chi.URLParam(r, "name"))
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(w, http.StatusNotFound, "changelog not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"limit": limit,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
