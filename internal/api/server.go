package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/config"
	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/dispatcher"
	"github.com/JakeFAU/chapter-crawler/internal/metrics"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	summaries  crawler.SummaryStore
	dispatcher *dispatcher.Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. progress may be
// nil, in which case the run endpoints answer 503.
func NewServer(
	summaries crawler.SummaryStore,
	progress store.ProgressRepository,
	dispatcher *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		summaries:  summaries,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
	}
	runs := NewProgressHandler(progress, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/works", func(r chi.Router) {
			r.Post("/", s.submitWork)
			r.Get("/{work_id}", s.getWork)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Get("/{run_id}", runs.GetRun)
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
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitWorkRequest struct {
	// Work is a numeric work ID or a work page URL.
	Work string `json:"work"`
}

type submitWorkResponse struct {
	RunID  string `json:"run_id"`
	WorkID int64  `json:"work_id"`
}

func (s *Server) submitWork(w http.ResponseWriter, r *http.Request) {
	var req submitWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	workID, err := crawler.ParseWorkRef(req.Work)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueWork(r.Context(), workID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrWorkInFlight):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("enqueue work failed", zap.Int64("work_id", workID), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitWorkResponse{RunID: runID, WorkID: workID})
}

func (s *Server) enqueueWork(ctx context.Context, workID int64) (string, error) {
	if s.dispatcher == nil {
		return "", errors.New("dispatcher not running")
	}
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		RunID:     runID,
		WorkID:    workID,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue work: %w", err)
	}
	return runID, nil
}

func (s *Server) getWork(w http.ResponseWriter, r *http.Request) {
	workID, err := crawler.ParseWorkRef(chi.URLParam(r, "work_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid work_id")
		return
	}
	if s.summaries == nil {
		writeError(w, http.StatusServiceUnavailable, "summary store unavailable")
		return
	}
	summary, err := s.summaries.GetSummary(r.Context(), workID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "work not found")
			return
		}
		s.logger.Error("get summary failed", zap.Int64("work_id", workID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "pending": summary.Pending()})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
