package runner

import (
	"context"
	"sync"
)

// Fleet owns one runner goroutine per source and answers control-channel
// lookups by source name.
type Fleet struct {
	runners map[string]*Runner
	wg      sync.WaitGroup
}

func NewFleet(runners ...*Runner) *Fleet {
	byName := make(map[string]*Runner, len(runners))
	for _, r := range runners {
		byName[r.SourceName()] = r
	}
	return &Fleet{runners: byName}
}

// Start launches every runner loop. Call Wait to block until all loops
// return.
func (f *Fleet) Start(ctx context.Context) {
	for _, r := range f.runners {
		f.wg.Add(1)
		go func(r *Runner) {
			defer f.wg.Done()
			r.Loop(ctx)
		}(r)
	}
}

// Wait blocks until every runner loop has exited.
func (f *Fleet) Wait() {
	f.wg.Wait()
}

// ForceDue makes the named source's next run eligible immediately.
func (f *Fleet) ForceDue(source string) bool {
	r, ok := f.runners[source]
	if !ok {
		return false
	}
	r.Scheduler().ForceDue()
	return true
}
