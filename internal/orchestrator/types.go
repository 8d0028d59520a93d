package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/supervisor"
)

// Status is a TestRecord together with its derived progress estimate.
type Status struct {
	*model.TestRecord
	Progress float64
}

// runningEntry tracks the live bookkeeping for one non-terminal test: the
// handle a Stop call needs to signal, and whether that stop was operator-
// requested (to distinguish a clean operator stop from a crash when the
// supervised Wait observes a signal exit).
type runningEntry struct {
	handle        *supervisor.Handle
	stopRequested atomic.Bool
	done          chan struct{}
}

type runningSet struct {
	mu      sync.Mutex
	entries map[model.TestId]*runningEntry
}

func newRunningSet() *runningSet {
	return &runningSet{entries: make(map[model.TestId]*runningEntry)}
}

func (r *runningSet) put(id model.TestId, e *runningEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

func (r *runningSet) get(id model.TestId) (*runningEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *runningSet) delete(id model.TestId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
