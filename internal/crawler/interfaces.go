package crawler

import (
	"context"
	"time"
)

// RunStore persists run metadata, results and rendered pages.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
	SaveResult(ctx context.Context, runID string, result RunResult) error
	RecordPage(ctx context.Context, page PageContent) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	ListPages(ctx context.Context, runID string) ([]PageContent, error)
}

// Publisher pushes completion events to the downstream persistence collaborator.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for discovery runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Canceler stops an in-flight run.
type Canceler interface {
	Cancel(runID string) bool
}

// ContentConverter renders page HTML into markdown.
type ContentConverter interface {
	Convert(pageURL string, html []byte) (string, error)
}

// Hasher computes digests of rendered content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
