// internal/server/server.go
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/queue"
	"github.com/qbtrules/qbtrules/internal/types"
	"github.com/qbtrules/qbtrules/internal/worker"
)

/*
 * HTTP API.
 *
 * JSON over net/http: submit runs, inspect and cancel jobs, read queue
 * stats. Everything under /api requires the shared API key via the
 * X-Api-Key header or the ?key query parameter, except /api/health and
 * /api/version which stay open for probes. /metrics serves Prometheus.
 *
 * Execution is asynchronous: POST /api/execute answers 202 with the
 * queued job; poll GET /api/jobs/{id} for the result.
 */

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server wires the API handlers to the queue and worker.
type Server struct {
	queue  *queue.Queue
	worker *worker.Worker
	apiKey string
	log    zerolog.Logger
	http   *http.Server
}

// New builds the server. An empty apiKey disables authentication, which
// is only sane on a loopback bind.
func New(addr string, q *queue.Queue, w *worker.Worker, apiKey string, log zerolog.Logger) *Server {
	s := &Server{
		queue:  q,
		worker: w,
		apiKey: apiKey,
		log:    log.With().Str("component", "server").Logger(),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/execute", s.auth(http.HandlerFunc(s.handleExecute)))
	mux.Handle("GET /api/jobs", s.auth(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /api/jobs/{id}", s.auth(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("DELETE /api/jobs/{id}", s.auth(http.HandlerFunc(s.handleCancelJob)))
	mux.Handle("GET /api/stats", s.auth(http.HandlerFunc(s.handleStats)))

	return mux
}

// ListenAndServe blocks serving the API until Shutdown.
func (s *Server) ListenAndServe() error {
	if s.apiKey == "" {
		s.log.Warn().Msg("no API key configured, authentication disabled")
	}
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// auth enforces the shared API key.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-Api-Key")
			if key == "" {
				key = r.URL.Query().Get("key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleExecute queues a run and answers 202 with the job.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := queue.NewJobRequest{
		Context:  q.Get("context"),
		Instance: q.Get("instance"),
	}

	if rawHash := q.Get("hash"); rawHash != "" {
		hash, err := types.ParseHash(rawHash)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid torrent hash: want 40 hex characters")
			return
		}
		req.Hash = string(hash)
	}

	if rawDry := q.Get("dry_run"); rawDry != "" {
		dryRun, err := strconv.ParseBool(rawDry)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid dry_run value")
			return
		}
		req.DryRun = dryRun
	}

	job, err := s.queue.Enqueue(req)
	if err != nil {
		s.log.Error().Err(err).Msg("enqueue failed")
		s.writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	s.log.Info().Str("job_id", string(job.ID)).Str("context", job.Context).Msg("job queued")
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := queue.ListFilter{Context: q.Get("context")}

	if status := q.Get("status"); status != "" {
		if !queue.ValidStatus(status) {
			s.writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = queue.Status(status)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	jobs, err := s.queue.List(filter)
	if err != nil {
		s.log.Error().Err(err).Msg("list jobs failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseJobID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.queue.Get(id)
	if err != nil {
		if errors.Is(err, types.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error().Err(err).Msg("get job failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseJobID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch err := s.queue.Cancel(id); {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": queue.StatusCancelled})
	case errors.Is(err, types.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, types.ErrJobNotCancellable):
		s.writeError(w, http.StatusConflict, "job is not pending")
	default:
		s.log.Error().Err(err).Msg("cancel job failed")
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.log.Error().Err(err).Msg("stats failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]any{"status": "ok", "worker": s.worker.Status()}
	code := http.StatusOK
	if err := s.queue.HealthCheck(ctx); err != nil {
		health["status"] = "degraded"
		health["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
