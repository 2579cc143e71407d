package crawler

import (
	"errors"
	"time"

	"github.com/JakeFAU/site-discovery/internal/discovery"
)

// ErrRunNotFound is returned by stores when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when a terminal run would change status again.
var ErrRunFinished = errors.New("run already finished")

// ErrQueueClosed is returned by Dequeue after the queue shut down.
var ErrQueueClosed = errors.New("queue closed")

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// RunRequest captures what a client asked to discover.
type RunRequest struct {
	WebsiteURL   string `json:"website_url"`
	SitemapLimit int    `json:"sitemap_limit,omitempty"`
	CrawlLimit   int    `json:"crawl_limit,omitempty"`
}

// Run is the metadata persisted for each submitted discovery.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Request   RunRequest `json:"request"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Result    *RunResult `json:"result,omitempty"`
}

// RunResult is the output of a finished run: the classified URLs plus the
// descriptors of every file that probed as downloadable.
type RunResult struct {
	Discovery discovery.Result               `json:"discovery"`
	Documents []discovery.DocumentDescriptor `json:"documents"`
}

// PageContent is a page rendered to markdown during a run.
type PageContent struct {
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	Markdown    string    `json:"markdown"`
	ContentHash string    `json:"content_hash"`
	ConvertedAt time.Time `json:"converted_at"`
}

// CompletionEvent is published once a run succeeds.
type CompletionEvent struct {
	RunID      string                         `json:"run_id"`
	WebsiteURL string                         `json:"website_url"`
	Source     discovery.Source               `json:"source"`
	Pages      []string                       `json:"pages"`
	Documents  []discovery.DocumentDescriptor `json:"documents"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Request   RunRequest
	Attempt   int
	Submitted int64
}
