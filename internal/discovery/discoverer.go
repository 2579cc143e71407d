package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by New and Discover when a value is left at zero.
const (
	DefaultSitemapLimit         = 100
	DefaultCrawlLimit           = 50
	DefaultMaxDepth             = 2
	DefaultFanoutCap            = 15
	DefaultSitemapProbeTimeout  = 4 * time.Second
	DefaultSitemapFetchTimeout  = 8 * time.Second
	DefaultCrawlFetchTimeout    = 6 * time.Second
	DefaultDocumentProbeTimeout = 8 * time.Second
	DefaultDocumentConcurrency  = 4
	DefaultBudget               = 90 * time.Second
)

// Options tunes per-request timeouts and traversal bounds.
type Options struct {
	SitemapProbeTimeout  time.Duration
	SitemapFetchTimeout  time.Duration
	CrawlFetchTimeout    time.Duration
	DocumentProbeTimeout time.Duration
	FanoutCap            int
	DocumentConcurrency  int
}

func (o Options) withDefaults() Options {
	if o.SitemapProbeTimeout <= 0 {
		o.SitemapProbeTimeout = DefaultSitemapProbeTimeout
	}
	if o.SitemapFetchTimeout <= 0 {
		o.SitemapFetchTimeout = DefaultSitemapFetchTimeout
	}
	if o.CrawlFetchTimeout <= 0 {
		o.CrawlFetchTimeout = DefaultCrawlFetchTimeout
	}
	if o.DocumentProbeTimeout <= 0 {
		o.DocumentProbeTimeout = DefaultDocumentProbeTimeout
	}
	if o.FanoutCap <= 0 {
		o.FanoutCap = DefaultFanoutCap
	}
	if o.DocumentConcurrency <= 0 {
		o.DocumentConcurrency = DefaultDocumentConcurrency
	}
	return o
}

// Limits bounds a single Discover call.
type Limits struct {
	SitemapLimit int
	CrawlLimit   int
	MaxDepth     int
	// Budget caps the wall-clock time of the whole call. When it expires the
	// partial result gathered so far is returned.
	Budget time.Duration
}

// DefaultLimits returns the limits used when a caller has no preference.
func DefaultLimits() Limits {
	return Limits{
		SitemapLimit: DefaultSitemapLimit,
		CrawlLimit:   DefaultCrawlLimit,
		MaxDepth:     DefaultMaxDepth,
		Budget:       DefaultBudget,
	}
}

func (l Limits) withDefaults() Limits {
	if l.SitemapLimit <= 0 {
		l.SitemapLimit = DefaultSitemapLimit
	}
	if l.CrawlLimit <= 0 {
		l.CrawlLimit = DefaultCrawlLimit
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.Budget <= 0 {
		l.Budget = DefaultBudget
	}
	return l
}

// Discoverer runs sitemap walks, crawls and document probes over a Fetcher.
type Discoverer struct {
	fetcher  Fetcher
	opts     Options
	logger   *zap.Logger
	recorder Recorder
	observer PageObserver
}

// New constructs a Discoverer. A nil logger or recorder disables that output.
func New(fetcher Fetcher, opts Options, logger *zap.Logger, recorder Recorder) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Discoverer{
		fetcher:  fetcher,
		opts:     opts.withDefaults(),
		logger:   logger,
		recorder: recorder,
	}
}

// WithPageObserver returns a copy of d that reports crawled pages to obs.
func (d *Discoverer) WithPageObserver(obs PageObserver) *Discoverer {
	cp := *d
	cp.observer = obs
	return &cp
}

// Discover enumerates the pages and document files of websiteURL.
//
// The sitemap tree is tried first; the crawl only runs when the walk yields no
// URL. The only error is ErrInvalidWebsiteURL.
func (d *Discoverer) Discover(ctx context.Context, websiteURL string, limits Limits) (Result, error) {
	if err := ValidateWebsiteURL(websiteURL); err != nil {
		return Result{}, err
	}
	limits = limits.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, limits.Budget)
	defer cancel()

	logger := d.logger.With(zap.String("website_url", websiteURL))
	start := time.Now()

	if sitemapURL, ok := d.LocateSitemap(ctx, websiteURL); ok {
		logger.Debug("sitemap located", zap.String("sitemap_url", sitemapURL))
		walked := d.WalkSitemap(ctx, sitemapURL, limits.SitemapLimit, d.opts.SitemapFetchTimeout)
		if len(walked) > 0 {
			res := buildResult(Classify(walked), SourceSitemap)
			d.finish(logger, res, start, ctx.Err())
			return res, nil
		}
		logger.Debug("sitemap walk yielded nothing, falling back to crawl")
	}

	crawled := d.Crawl(ctx, websiteURL, limits.CrawlLimit, limits.MaxDepth)
	res := buildResult(Classify(crawled.All), SourceCrawl)
	d.finish(logger, res, start, ctx.Err())
	return res, nil
}

func (d *Discoverer) finish(logger *zap.Logger, res Result, start time.Time, ctxErr error) {
	d.recorder.ObserveDiscovery(string(res.Source), len(res.Pages), len(res.Files))
	fields := []zap.Field{
		zap.String("source", string(res.Source)),
		zap.Int("pages", len(res.Pages)),
		zap.Int("files", len(res.Files)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if ctxErr != nil {
		logger.Warn("discovery budget exhausted, returning partial result", append(fields, zap.Error(ctxErr))...)
		return
	}
	logger.Info("discovery finished", fields...)
}

func buildResult(set ClassifiedURLSet, source Source) Result {
	urls := make([]string, 0, len(set.Pages)+len(set.Files))
	urls = append(urls, set.Pages...)
	urls = append(urls, set.Files...)
	return Result{
		URLs:   urls,
		Pages:  set.Pages,
		Files:  set.Files,
		Source: source,
	}
}

// fetch issues a GET bounded by timeout and records the outcome.
func (d *Discoverer) fetch(ctx context.Context, component, rawURL string, timeout time.Duration) (Response, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.fetcher.Get(reqCtx, rawURL)
	if err != nil {
		d.recorder.ObserveFetch(component, OutcomeError)
		d.logger.Debug("fetch failed",
			zap.String("component", component),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return Response{}, false
	}
	if !resp.Success() {
		d.recorder.ObserveFetch(component, OutcomeHTTPError)
		d.logger.Debug("fetch returned non-success status",
			zap.String("component", component),
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
		)
		return Response{}, false
	}
	d.recorder.ObserveFetch(component, OutcomeOK)
	return resp, true
}
