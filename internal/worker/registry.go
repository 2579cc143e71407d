package worker

import "sync"

// Registry tracks the cancel functions of in-flight runs. It implements
// crawler.Canceler and is shared by every worker of a dispatcher.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]func()
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]func())}
}

// Cancel stops runID if a worker is executing it.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	delete(r.cancels, runID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports how many runs are executing.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

func (r *Registry) track(runID string, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
}

func (r *Registry) release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
}
