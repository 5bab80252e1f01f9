// Package api exposes the HTTP interface for the menu service.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/menu"
	"github.com/campuseats/menud/internal/metrics"
	"github.com/campuseats/menud/internal/query"
	"github.com/campuseats/menud/internal/scheduler"
)

// Config controls server behavior.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the query service and scheduler.
type Server struct {
	router  chi.Router
	queries *query.Service
	sched   *scheduler.Scheduler
	store   menu.Store
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queries *query.Service,
	sched *scheduler.Scheduler,
	store menu.Store,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queries: queries,
		sched:   sched,
		store:   store,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/menus", s.listMenus)
		r.Route("/crawl", func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/", s.triggerCrawl)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listMenus(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.queries.ListMenus(r.Context(), filters)
	if err != nil {
		if errors.Is(err, query.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "menu listing temporarily unavailable")
		return
	}
	if page.Records == nil {
		page.Records = []menu.Record{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	result, err := s.sched.Trigger(r.Context(), menu.TriggerManual)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, menu.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func parseFilters(r *http.Request) (query.Filters, error) {
	q := r.URL.Query()
	filters := query.Filters{
		ProviderID: q.Get("provider"),
		PageToken:  q.Get("page_token"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(menu.DateLayout, raw)
		if err != nil {
			return query.Filters{}, errors.New("from must be a YYYY-MM-DD date")
		}
		filters.From = menu.Date(t)
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(menu.DateLayout, raw)
		if err != nil {
			return query.Filters{}, errors.New("to must be a YYYY-MM-DD date")
		}
		filters.To = menu.Date(t)
	}
	if raw := q.Get("date"); raw != "" {
		t, err := time.Parse(menu.DateLayout, raw)
		if err != nil {
			return query.Filters{}, errors.New("date must be a YYYY-MM-DD date")
		}
		filters.From = menu.Date(t)
		filters.To = filters.From
	}
	if raw := q.Get("slot"); raw != "" {
		filters.Slot = menu.MealSlot(raw)
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			return query.Filters{}, errors.New("page_size must be a non-negative integer")
		}
		filters.PageSize = size
	}
	return filters, nil
}
