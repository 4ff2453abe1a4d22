// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudscout/archscraper/internal/metrics"
	"github.com/cloudscout/archscraper/internal/scraper"
)

// JobService is the job manager surface the API needs.
type JobService interface {
	Submit(ctx context.Context) (string, error)
	Status(jobID string) (scraper.ScrapeJob, error)
	Current() (scraper.ScrapeJob, bool)
	Sources() []scraper.Source
}

// Config controls HTTP-level behavior.
type Config struct {
	// APIKey, when non-empty, is required on every request via the
	// X-API-Key header or api_key query parameter.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job manager and batch store.
type Server struct {
	router chi.Router
	jobs   JobService
	store  scraper.BatchStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs JobService, store scraper.BatchStore, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:   jobs,
		store:  store,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scrapes", func(r chi.Router) {
			r.Post("/", s.submitScrape)
			r.Get("/current", s.getCurrentScrape)
			r.Get("/{job_id}", s.getScrape)
		})
		r.Get("/sources", s.listSources)
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.listBatches)
			r.Get("/latest", s.getLatestBatch)
			r.Get("/{batch_id}", s.getBatch)
			r.Get("/{batch_id}/patterns", s.getBatchPatterns)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a failing list means not ready.
	if _, err := s.store.List(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "batch store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.jobs.Submit(r.Context())
	if err != nil {
		if errors.Is(err, scraper.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getScrape(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Status(jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) getCurrentScrape(w http.ResponseWriter, _ *http.Request) {
	job, ok := s.jobs.Current()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no scrape job submitted yet")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": s.jobs.Sources()})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if summaries == nil {
		summaries = []scraper.BatchSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": summaries})
}

func (s *Server) getLatestBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.store.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no batches persisted yet")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *Server) getBatchPatterns(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	records := batch.Architectures
	if records == nil {
		records = []scraper.PatternRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batch.BatchID,
		"patterns": records,
	})
}

func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request) (scraper.Batch, bool) {
	batchID := chi.URLParam(r, "batch_id")
	batch, err := s.store.Get(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
		} else {
			s.writeError(w, http.StatusInternalServerError, "failed to load batch")
		}
		return scraper.Batch{}, false
	}
	return batch, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
