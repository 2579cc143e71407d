package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-discovery/internal/config"
	"github.com/JakeFAU/site-discovery/internal/crawler"
	"github.com/JakeFAU/site-discovery/internal/discovery"
	"github.com/JakeFAU/site-discovery/internal/metrics"
)

const (
	enqueueTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

// Dispatcher accepts runs for execution and cancels running ones.
type Dispatcher interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
	Cancel(runID string) bool
}

// Stats is the service snapshot reported by /readyz.
type Stats struct {
	QueuedRuns       int `json:"queued_runs"`
	ActiveRuns       int `json:"active_runs"`
	RateLimitedHosts int `json:"rate_limited_hosts"`
	PublishedEvents  int `json:"published_events"`
}

// Server wires HTTP handlers to the dispatcher and run store.
type Server struct {
	router     chi.Router
	stats      func() Stats
	runStore   crawler.RunStore
	dispatcher Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runStore crawler.RunStore,
	dispatcher Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runStore:   runStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/discoveries", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitDiscovery)
		r.Get("/", s.listDiscoveries)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getDiscovery)
			r.Get("/content", s.getContent)
			r.Post("/cancel", s.cancelDiscovery)
		})
	})

	s.router = r
	return s
}

// WithStats makes /readyz include the snapshot returned by fn.
func (s *Server) WithStats(fn func() Stats) *Server {
	s.stats = fn
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.runStore.ListRuns(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "stats": s.stats()})
}

type discoveryRequest struct {
	WebsiteURL   string `json:"website_url"`
	SitemapLimit *int   `json:"sitemap_limit"`
	CrawlLimit   *int   `json:"crawl_limit"`
}

func (s *Server) submitDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	runReq, err := toRunRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), runReq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue run failed", zap.String("website_url", runReq.WebsiteURL), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func toRunRequest(req discoveryRequest) (crawler.RunRequest, error) {
	if err := discovery.ValidateWebsiteURL(req.WebsiteURL); err != nil {
		return crawler.RunRequest{}, err
	}
	out := crawler.RunRequest{WebsiteURL: req.WebsiteURL}
	if req.SitemapLimit != nil {
		if *req.SitemapLimit <= 0 {
			return crawler.RunRequest{}, errors.New("sitemap_limit must be > 0")
		}
		out.SitemapLimit = *req.SitemapLimit
	}
	if req.CrawlLimit != nil {
		if *req.CrawlLimit <= 0 {
			return crawler.RunRequest{}, errors.New("crawl_limit must be > 0")
		}
		out.CrawlLimit = *req.CrawlLimit
	}
	return out, nil
}

func (s *Server) enqueueRun(ctx context.Context, req crawler.RunRequest) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := crawler.Run{
		ID:        runID,
		Status:    crawler.RunStatusQueued,
		Request:   req,
		Submitted: now,
	}
	if err := s.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		RunID:     runID,
		Request:   req,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// Leave no queued run behind that nothing will pick up.
		if uerr := s.runStore.UpdateRunStatus(context.WithoutCancel(ctx), runID, crawler.RunStatusFailed, err.Error()); uerr != nil {
			s.logger.Warn("mark unqueued run failed", zap.String("run_id", runID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return runID, nil
}

// runSummary is the list view of a run.
type runSummary struct {
	ID         string            `json:"id"`
	Status     crawler.RunStatus `json:"status"`
	WebsiteURL string            `json:"website_url"`
	Submitted  time.Time         `json:"submitted_at"`
	Finished   *time.Time        `json:"finished_at,omitempty"`
	Source     discovery.Source  `json:"source,omitempty"`
	Pages      int               `json:"pages"`
	Files      int               `json:"files"`
	Documents  int               `json:"documents"`
}

func summarize(run crawler.Run) runSummary {
	out := runSummary{
		ID:         run.ID,
		Status:     run.Status,
		WebsiteURL: run.Request.WebsiteURL,
		Submitted:  run.Submitted,
		Finished:   run.Finished,
	}
	if run.Result != nil {
		out.Source = run.Result.Discovery.Source
		out.Pages = len(run.Result.Discovery.Pages)
		out.Files = len(run.Result.Discovery.Files)
		out.Documents = len(run.Result.Documents)
	}
	return out
}

func (s *Server) listDiscoveries(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runStore.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) getDiscovery(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	pages, err := s.runStore.ListPages(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "status": run.Status, "pages": pages})
}

func (s *Server) cancelDiscovery(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run already %s", run.Status))
		return
	}
	if s.dispatcher.Cancel(run.ID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": "canceling"})
		return
	}
	err := s.runStore.UpdateRunStatus(r.Context(), run.ID, crawler.RunStatusCanceled, "canceled by client")
	switch {
	case errors.Is(err, crawler.ErrRunFinished):
		writeError(w, http.StatusConflict, "run already finished")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	// A worker may have picked the run up in between.
	s.dispatcher.Cancel(run.ID)
	writeJSON(w, http.StatusOK, map[string]string{"run_id": run.ID, "status": string(crawler.RunStatusCanceled)})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (crawler.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, crawler.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load run")
		}
		return crawler.Run{}, false
	}
	return run, true
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
