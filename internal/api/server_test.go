package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-discovery/internal/clock/system"
	"github.com/JakeFAU/site-discovery/internal/config"
	"github.com/JakeFAU/site-discovery/internal/crawler"
	"github.com/JakeFAU/site-discovery/internal/discovery"
	"github.com/JakeFAU/site-discovery/internal/dispatcher"
	"github.com/JakeFAU/site-discovery/internal/metrics"
	queuememory "github.com/JakeFAU/site-discovery/internal/queue/memory"
	storememory "github.com/JakeFAU/site-discovery/internal/storage/memory"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
	}
}

type testServer struct {
	server     *Server
	store      *storememory.RunStore
	dispatcher *fakeDispatcher
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	store := storememory.NewRunStore(system.NewManual(time.Unix(100, 0)))
	disp := &fakeDispatcher{}
	idGen := &fakeIDGen{ids: []string{"run-1", "run-2", "run-3"}}
	srv := NewServer(store, disp, idGen, system.NewManual(time.Unix(100, 0)), cfg, zap.NewNop())
	return &testServer{server: srv, store: store, dispatcher: disp}
}

func (ts *testServer) do(method, path string, body string, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerSubmitDiscovery(t *testing.T) {
	t.Parallel()

	store := storememory.NewRunStore(system.New())
	q := queuememory.NewQueue(10)
	dispatch := dispatcher.New(q, nil, nil)
	srv := NewServer(store, dispatch, &fakeIDGen{ids: []string{"run-a"}}, system.New(), testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/discoveries",
		bytes.NewBufferString(`{"website_url":"https://example.com","sitemap_limit":10,"crawl_limit":5}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"run_id":"run-a"}`, rec.Body.String())

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-a", item.RunID)
	require.Equal(t, crawler.RunRequest{WebsiteURL: "https://example.com", SitemapLimit: 10, CrawlLimit: 5}, item.Request)

	run, err := store.GetRun(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, run.Status)
}

func TestServerSubmitDiscoveryRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"unknown field", `{"website_url":"https://example.com","urls":[]}`, "invalid JSON"},
		{"missing url", `{}`, "invalid website url"},
		{"bad scheme", `{"website_url":"ftp://example.com"}`, "invalid website url"},
		{"relative", `{"website_url":"/about"}`, "invalid website url"},
		{"zero sitemap limit", `{"website_url":"https://example.com","sitemap_limit":0}`, "sitemap_limit"},
		{"negative crawl limit", `{"website_url":"https://example.com","crawl_limit":-3}`, "crawl_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, testConfig())
			rec := ts.do(http.MethodPost, "/v1/discoveries", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, ts.dispatcher.enqueued())
		})
	}
}

func TestServerSubmitDiscoveryEnqueueFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ts.dispatcher.err = crawler.ErrQueueClosed

	rec := ts.do(http.MethodPost, "/v1/discoveries", `{"website_url":"https://example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	run, err := ts.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
}

func TestServerGetDiscovery(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.store.CreateRun(ctx, crawler.Run{ID: "run-x", Status: crawler.RunStatusRunning}))
	require.NoError(t, ts.store.SaveResult(ctx, "run-x", crawler.RunResult{
		Discovery: discovery.Result{
			URLs:   []string{"https://example.com/a", "https://example.com/f.pdf"},
			Pages:  []string{"https://example.com/a"},
			Files:  []string{"https://example.com/f.pdf"},
			Source: discovery.SourceSitemap,
		},
		Documents: []discovery.DocumentDescriptor{{
			SourceURL:   "https://example.com/f.pdf",
			DownloadURL: "https://example.com/f.pdf",
			Pathname:    "/f.pdf",
			ContentType: "application/pdf",
		}},
	}))

	rec := ts.do(http.MethodGet, "/v1/discoveries/run-x", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run crawler.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-x", body.Run.ID)
	require.NotNil(t, body.Run.Result)
	require.Equal(t, discovery.SourceSitemap, body.Run.Result.Discovery.Source)
	require.Len(t, body.Run.Result.Documents, 1)
	require.Contains(t, rec.Body.String(), `"download_url":"https://example.com/f.pdf"`)

	rec = ts.do(http.MethodGet, "/v1/discoveries/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerListDiscoveries(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.store.CreateRun(ctx, crawler.Run{
		ID:        "old",
		Status:    crawler.RunStatusQueued,
		Request:   crawler.RunRequest{WebsiteURL: "https://old.example.com"},
		Submitted: time.Unix(10, 0),
	}))
	require.NoError(t, ts.store.CreateRun(ctx, crawler.Run{
		ID:        "new",
		Status:    crawler.RunStatusRunning,
		Request:   crawler.RunRequest{WebsiteURL: "https://new.example.com"},
		Submitted: time.Unix(20, 0),
	}))
	require.NoError(t, ts.store.SaveResult(ctx, "new", crawler.RunResult{
		Discovery: discovery.Result{Pages: []string{"a", "b"}, Files: []string{"c"}, Source: discovery.SourceCrawl},
	}))

	rec := ts.do(http.MethodGet, "/v1/discoveries", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "new", body.Runs[0].ID)
	require.Equal(t, "https://new.example.com", body.Runs[0].WebsiteURL)
	require.Equal(t, 2, body.Runs[0].Pages)
	require.Equal(t, 1, body.Runs[0].Files)
	require.Equal(t, discovery.SourceCrawl, body.Runs[0].Source)
	require.Equal(t, 0, body.Runs[1].Pages)
}

func TestServerGetContent(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.store.CreateRun(ctx, crawler.Run{ID: "run-c", Status: crawler.RunStatusSucceeded}))
	require.NoError(t, ts.store.RecordPage(ctx, crawler.PageContent{
		RunID:    "run-c",
		URL:      "https://example.com/a",
		Markdown: "# Hello",
	}))

	rec := ts.do(http.MethodGet, "/v1/discoveries/run-c/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"markdown":"# Hello"`)

	rec = ts.do(http.MethodGet, "/v1/discoveries/missing/content", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerCancelQueuedRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateRun(context.Background(), crawler.Run{ID: "run-q", Status: crawler.RunStatusQueued}))

	rec := ts.do(http.MethodPost, "/v1/discoveries/run-q/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	run, err := ts.store.GetRun(context.Background(), "run-q")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, run.Status)

	rec = ts.do(http.MethodPost, "/v1/discoveries/run-q/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServerCancelRunningRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.CreateRun(context.Background(), crawler.Run{ID: "run-r", Status: crawler.RunStatusRunning}))
	ts.dispatcher.running = map[string]bool{"run-r": true}

	rec := ts.do(http.MethodPost, "/v1/discoveries/run-r/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "canceling")

	// The worker owns the final transition.
	run, err := ts.store.GetRun(context.Background(), "run-r")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, run.Status)
}

func TestServerCancelUnknownRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(http.MethodPost, "/v1/discoveries/nope/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthAndMetrics(t *testing.T) {
	t.Parallel()
	metrics.Init()

	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerReadyzReportsStats(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ts.server.WithStats(func() Stats {
		return Stats{QueuedRuns: 3, ActiveRuns: 1, RateLimitedHosts: 2, PublishedEvents: 7}
	})

	rec := ts.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"status":"ready","stats":{"queued_runs":3,"active_runs":1,"rate_limited_hosts":2,"published_events":7}}`,
		rec.Body.String())
}

func TestServerAPIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	ts := newTestServer(t, cfg)

	rec := ts.do(http.MethodGet, "/v1/discoveries", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/discoveries", "", "X-API-Key", "wrong")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/discoveries", "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/discoveries?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = ts.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareKeepsValidHeader(t *testing.T) {
	t.Parallel()

	const incoming = "0190b7a4-7c8e-7a6b-9f3c-1234567890ab"
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, incoming, seen)
	require.Equal(t, incoming, rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEqual(t, "<script>", seen)
	require.NotEmpty(t, seen)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

// --- fakes ---

type fakeDispatcher struct {
	mu      sync.Mutex
	items   []crawler.QueueItem
	running map[string]bool
	err     error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, item crawler.QueueItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, item)
	return nil
}

func (d *fakeDispatcher) Cancel(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[runID]
}

func (d *fakeDispatcher) enqueued() []crawler.QueueItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]crawler.QueueItem(nil), d.items...)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}
