package visualization

import (
	"context"
	"sync"
)

// inflight tracks the cancel functions of jobs processed in this process.
type inflight struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{cancels: make(map[string]context.CancelFunc)}
}

// track derives a cancellable context for jobID. The returned release must be
// called when processing ends.
func (f *inflight) track(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancels[jobID] = cancel
	f.mu.Unlock()
	return ctx, func() {
		f.mu.Lock()
		delete(f.cancels, jobID)
		f.mu.Unlock()
		cancel()
	}
}

// abort cancels the processing context of jobID, reporting whether the job
// was running here.
func (f *inflight) abort(jobID string) bool {
	f.mu.Lock()
	cancel, ok := f.cancels[jobID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (f *inflight) has(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cancels[jobID]
	return ok
}
