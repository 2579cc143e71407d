// Package collyfetcher implements discovery.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-discovery/internal/discovery"
)

// DefaultMaxBodyBytes caps response bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// Waiter delays a request until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	MaxBodyBytes int
	// Headers are added to every request.
	Headers http.Header
	Limiter Waiter
}

// Fetcher implements discovery.Fetcher on top of Colly collectors.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. All collectors share one pooled transport.
func New(cfg Config) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Get fetches rawURL following redirects.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (discovery.Response, error) {
	return f.do(ctx, http.MethodGet, rawURL)
}

// Head issues a HEAD request and surfaces redirects instead of following them.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (discovery.Response, error) {
	return f.do(ctx, http.MethodHead, rawURL)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (discovery.Response, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return discovery.Response{}, fmt.Errorf("%s %s: %w", method, rawURL, err)
		}
	}
	var (
		result   discovery.Response
		fetchErr error
	)
	collector := f.buildCollector(ctx, method, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, method, rawURL, &fetchErr); err != nil {
		return discovery.Response{}, err
	}
	if result.StatusCode == 0 {
		return discovery.Response{}, fmt.Errorf("%s %s: no response received", method, rawURL)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	method string,
	result *discovery.Response,
	fetchErr *error,
) *colly.Collector {
	collector := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(f.transport)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			collector.SetRequestTimeout(remaining)
		}
	}
	if method == http.MethodHead {
		collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *discovery.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = discovery.Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, rawURL string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(rawURL)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly %s canceled: %w", method, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s %s: %w", method, rawURL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly %s response %s: %w", method, rawURL, *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
