// Package worker implements the discovery run execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-discovery/internal/crawler"
	"github.com/JakeFAU/site-discovery/internal/discovery"
	"github.com/JakeFAU/site-discovery/internal/metrics"
)

var errCanceledByClient = errors.New("canceled by client")

// Config controls Worker behavior.
type Config struct {
	Topic                string
	Limits               discovery.Limits
	DocumentProbeTimeout time.Duration
	MarkdownEnabled      bool
	MaxPages             int
	ContentFetchTimeout  time.Duration
}

// Worker consumes queue items and executes discovery runs.
type Worker struct {
	queue      crawler.Queue
	runStore   crawler.RunStore
	publisher  crawler.Publisher
	discoverer *discovery.Discoverer
	fetcher    discovery.Fetcher
	converter  crawler.ContentConverter
	hasher     crawler.Hasher
	clock      crawler.Clock
	registry   *Registry
	cfg        Config
	logger     *zap.Logger
}

// Deps groups the collaborators of a Worker.
type Deps struct {
	Queue      crawler.Queue
	RunStore   crawler.RunStore
	Publisher  crawler.Publisher
	Discoverer *discovery.Discoverer
	// Fetcher loads page bodies the crawl did not already hold, for markdown.
	Fetcher   discovery.Fetcher
	Converter crawler.ContentConverter
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Registry  *Registry
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if cfg.ContentFetchTimeout <= 0 {
		cfg.ContentFetchTimeout = discovery.DefaultCrawlFetchTimeout
	}
	return &Worker{
		queue:      deps.Queue,
		runStore:   deps.RunStore,
		publisher:  deps.Publisher,
		discoverer: deps.Discoverer,
		fetcher:    deps.Fetcher,
		converter:  deps.Converter,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		registry:   deps.Registry,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

func (w *Worker) processRun(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID), zap.String("website_url", item.Request.WebsiteURL))

	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, crawler.RunStatusRunning, ""); err != nil {
		if errors.Is(err, crawler.ErrRunFinished) {
			logger.Info("run finished before it started, skipping")
			return
		}
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	w.registry.track(item.RunID, func() { cancel(errCanceledByClient) })
	defer w.registry.release(item.RunID)

	status, errText := w.execute(runCtx, logger, item)
	if status == crawler.RunStatusSucceeded && runCtx.Err() != nil {
		status = crawler.RunStatusCanceled
	}
	if status == crawler.RunStatusCanceled && errText == "" {
		errText = canceledReason(runCtx)
	}

	// The run context may be dead; the final transition must still land.
	if err := w.runStore.UpdateRunStatus(context.WithoutCancel(ctx), item.RunID, status, errText); err != nil {
		if errors.Is(err, crawler.ErrRunFinished) {
			logger.Debug("run already finalized", zap.Error(err))
			return
		}
		logger.Error("final run status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("run finished", zap.String("status", string(status)), zap.String("error", errText))
}

func (w *Worker) execute(ctx context.Context, logger *zap.Logger, item crawler.QueueItem) (crawler.RunStatus, string) {
	cache := newPageCache(w.cfg.MaxPages)
	disc := w.discoverer
	if w.markdownEnabled() {
		disc = disc.WithPageObserver(cache.observe)
	}

	res, err := disc.Discover(ctx, item.Request.WebsiteURL, w.limitsFor(item.Request))
	if err != nil {
		return crawler.RunStatusFailed, err.Error()
	}
	if ctx.Err() != nil {
		return crawler.RunStatusCanceled, ""
	}

	docs := disc.ResolveDocuments(ctx, res.Files, w.cfg.DocumentProbeTimeout)
	if ctx.Err() != nil {
		return crawler.RunStatusCanceled, ""
	}
	logger.Debug("documents resolved", zap.Int("files", len(res.Files)), zap.Int("documents", len(docs)))

	result := crawler.RunResult{Discovery: res, Documents: docs}
	if err := w.runStore.SaveResult(ctx, item.RunID, result); err != nil {
		return crawler.RunStatusFailed, fmt.Sprintf("save result: %v", err)
	}

	if w.markdownEnabled() {
		w.renderPages(ctx, logger, item.RunID, res.Pages, cache)
	}

	if err := w.publishResult(ctx, item, result); err != nil {
		logger.Error("publish result failed", zap.Error(err))
		return crawler.RunStatusFailed, err.Error()
	}
	return crawler.RunStatusSucceeded, ""
}

func (w *Worker) limitsFor(req crawler.RunRequest) discovery.Limits {
	limits := w.cfg.Limits
	if req.SitemapLimit > 0 {
		limits.SitemapLimit = req.SitemapLimit
	}
	if req.CrawlLimit > 0 {
		limits.CrawlLimit = req.CrawlLimit
	}
	return limits
}

func (w *Worker) markdownEnabled() bool {
	return w.cfg.MarkdownEnabled && w.converter != nil && w.cfg.MaxPages > 0
}

// renderPages converts up to MaxPages pages. Crawled pages come from the
// cache; sitemap pages are fetched. Failures only skip the page.
func (w *Worker) renderPages(ctx context.Context, logger *zap.Logger, runID string, pages []string, cache *pageCache) {
	rendered := 0
	for _, pageURL := range pages {
		if rendered >= w.cfg.MaxPages || ctx.Err() != nil {
			return
		}
		body, ok := cache.get(pageURL)
		if !ok {
			body, ok = w.fetchPage(ctx, pageURL)
			if !ok {
				continue
			}
		}
		md, err := w.converter.Convert(pageURL, body)
		if err != nil {
			logger.Debug("markdown conversion failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		page := crawler.PageContent{
			RunID:       runID,
			URL:         pageURL,
			Markdown:    md,
			ConvertedAt: w.clock.Now(),
		}
		if w.hasher != nil {
			if page.ContentHash, err = w.hasher.Hash([]byte(md)); err != nil {
				logger.Debug("hash content failed", zap.String("url", pageURL), zap.Error(err))
			}
		}
		if err := w.runStore.RecordPage(ctx, page); err != nil {
			logger.Warn("record page failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		rendered++
	}
}

func (w *Worker) fetchPage(ctx context.Context, pageURL string) ([]byte, bool) {
	if w.fetcher == nil {
		return nil, false
	}
	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.ContentFetchTimeout)
	defer cancel()
	resp, err := w.fetcher.Get(reqCtx, pageURL)
	if err != nil || !resp.Success() {
		w.logger.Debug("content fetch failed", zap.String("url", pageURL), zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, false
	}
	return resp.Body, true
}

func (w *Worker) publishResult(ctx context.Context, item crawler.QueueItem, result crawler.RunResult) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	event := crawler.CompletionEvent{
		RunID:      item.RunID,
		WebsiteURL: item.Request.WebsiteURL,
		Source:     result.Discovery.Source,
		Pages:      result.Discovery.Pages,
		Documents:  result.Documents,
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	w.logger.Info("run published",
		zap.String("run_id", item.RunID),
		zap.String("message_id", id),
		zap.Int("pages", len(event.Pages)),
		zap.Int("documents", len(event.Documents)),
	)
	return nil
}

func canceledReason(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), errCanceledByClient) {
		return errCanceledByClient.Error()
	}
	return "worker shutting down"
}

// pageCache holds bodies of crawled pages for markdown rendering.
type pageCache struct {
	mu     sync.Mutex
	limit  int
	bodies map[string][]byte
}

func newPageCache(limit int) *pageCache {
	return &pageCache{limit: limit, bodies: make(map[string][]byte)}
}

func (c *pageCache) observe(pageURL string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) >= c.limit {
		return
	}
	c.bodies[pageURL] = append([]byte(nil), body...)
}

func (c *pageCache) get(pageURL string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.bodies[pageURL]
	return body, ok
}
