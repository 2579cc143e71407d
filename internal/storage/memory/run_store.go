// Package memory provides an in-process run store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/site-discovery/internal/crawler"
)

// RunStore keeps runs, results and rendered pages in memory.
type RunStore struct {
	mu    sync.RWMutex
	clock crawler.Clock
	runs  map[string]crawler.Run
	pages map[string][]crawler.PageContent
}

// NewRunStore constructs a RunStore stamping transitions with clock.
func NewRunStore(clock crawler.Clock) *RunStore {
	return &RunStore{
		clock: clock,
		runs:  make(map[string]crawler.Run),
		pages: make(map[string][]crawler.PageContent),
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus moves a run to status. Terminal runs are frozen.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status crawler.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("update %s: %w", runID, crawler.ErrRunNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("update %s to %s: %w", runID, status, crawler.ErrRunFinished)
	}
	run.Status = status
	run.ErrorText = errText
	now := s.clock.Now()
	if status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if status.Terminal() {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// SaveResult attaches a result to a run.
func (s *RunStore) SaveResult(_ context.Context, runID string, result crawler.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("save result %s: %w", runID, crawler.ErrRunNotFound)
	}
	run.Result = &result
	s.runs[runID] = run
	return nil
}

// RecordPage appends rendered content for a run.
func (s *RunStore) RecordPage(_ context.Context, page crawler.PageContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[page.RunID]; !ok {
		return fmt.Errorf("record page %s: %w", page.RunID, crawler.ErrRunNotFound)
	}
	s.pages[page.RunID] = append(s.pages[page.RunID], page)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("get %s: %w", runID, crawler.ErrRunNotFound)
	}
	return run, nil
}

// ListRuns returns every run, newest submission first.
func (s *RunStore) ListRuns(_ context.Context) ([]crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// ListPages returns the rendered pages of a run in recording order.
func (s *RunStore) ListPages(_ context.Context, runID string) ([]crawler.PageContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("list pages %s: %w", runID, crawler.ErrRunNotFound)
	}
	pages := s.pages[runID]
	out := make([]crawler.PageContent, len(pages))
	copy(out, pages)
	return out, nil
}
