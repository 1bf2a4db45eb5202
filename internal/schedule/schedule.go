// Package schedule holds per-source cadence policy. A Scheduler decides when
// a source's fetch loop runs again and what historical window each run
// covers; it never performs the run itself.
package schedule

import (
	"sync"
	"time"
)

// ResyncStrategy computes the next eligible run time after a completed run.
type ResyncStrategy interface {
	Next(after time.Time) time.Time
}

// IntervalResync re-runs a source at a fixed interval.
type IntervalResync time.Duration

func (r IntervalResync) Next(after time.Time) time.Time {
	return after.Add(time.Duration(r))
}

// DailyResync re-runs a source once a day at a fixed wall-clock time.
type DailyResync struct {
	Hour   int
	Minute int
}

func (r DailyResync) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), r.Hour, r.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// BackfillStrategy governs the historical window a source requests on its
// first run. Zero Days means no backfill.
type BackfillStrategy struct {
	Days int
}

// Window is the time range a single run should fetch.
type Window struct {
	From time.Time
	To   time.Time
}

// Scheduler tracks one source's run cadence. All methods are safe for
// concurrent use; the runner loop and the control consumer both touch it.
type Scheduler struct {
	resync   ResyncStrategy
	backfill BackfillStrategy
	runOnce  bool

	now func() time.Time

	mu       sync.Mutex
	nextRun  time.Time
	lastRun  time.Time
	hasRun   bool
	finished bool
}

// New returns a scheduler that is immediately due for its first run.
func New(resync ResyncStrategy, backfill BackfillStrategy, runOnce bool) *Scheduler {
	return &Scheduler{
		resync:   resync,
		backfill: backfill,
		runOnce:  runOnce,
		now:      time.Now,
	}
}

// Due reports whether a run should start now.
func (s *Scheduler) Due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	return !s.now().Before(s.nextRun)
}

// NextRun returns when the next run becomes eligible. The zero time means
// the scheduler is due immediately.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Window returns the fetch range for the run starting now: the backfill
// lookback on the first run, the span since the last completed run after
// that.
func (s *Scheduler) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.hasRun {
		from := now
		if s.backfill.Days > 0 {
			from = now.AddDate(0, 0, -s.backfill.Days)
		}
		return Window{From: from, To: now}
	}
	return Window{From: s.lastRun, To: now}
}

// Completed records a finished run and computes the next eligible time. A
// failed run still waits out the resync cadence but does not advance the
// window anchor, so the retry re-requests the same range and nothing
// published during the failed span is lost. A runOnce scheduler becomes
// Done after its single run either way.
func (s *Scheduler) Completed(at time.Time, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.hasRun = true
		s.lastRun = at
	}
	if s.runOnce {
		s.finished = true
		return
	}
	s.nextRun = s.resync.Next(at)
}

// Done reports whether the scheduler has no further runs to offer.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// ForceDue makes the next run eligible immediately without touching the
// last-run window.
func (s *Scheduler) ForceDue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.nextRun = time.Time{}
	}
}
