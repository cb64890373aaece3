package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// ObjectSpaceSweeper: periodic liveness sweeps for finalization
// ---------------------------------------------------------------------------

// SweepStats holds statistics from a single sweep.
type SweepStats struct {
	Live          int
	Scheduled     int
	Tracked       int
	SweepDuration time.Duration
	Timestamp     time.Time
}

// ObjectSpaceSweeper periodically collects the live objects and schedules
// the finalizers of tracked objects that are no longer reachable. Without
// it, finalizers only run when a program calls garbage_collect or an owner
// releases an object explicitly.
type ObjectSpaceSweeper struct {
	rt       *Runtime
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	// Statistics
	sweepCount atomic.Uint64
	lastStats  atomic.Pointer[SweepStats]
}

// DefaultSweepInterval is the sweep interval used when none is given.
const DefaultSweepInterval = 30 * time.Second

// NewObjectSpaceSweeper creates a sweeper for rt. A non-positive interval
// means DefaultSweepInterval.
func NewObjectSpaceSweeper(rt *Runtime, interval time.Duration) *ObjectSpaceSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &ObjectSpaceSweeper{
		rt:       rt,
		interval: interval,
	}
	s.enabled.Store(true)
	return s
}

// Start begins the periodic sweep goroutine. It is safe to call Start
// multiple times; only one sweep loop will run.
func (s *ObjectSpaceSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// The goroutine gets its own copies; Stop nils the fields.
	go s.loop(s.stop, s.stopped)
}

// Stop halts the sweep goroutine and waits for it to finish. It is safe to
// call Stop multiple times or on a sweeper that was never started.
func (s *ObjectSpaceSweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables sweeping. When disabled the goroutine
// keeps ticking but skips sweeps.
func (s *ObjectSpaceSweeper) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// IsEnabled reports whether sweeping is enabled.
func (s *ObjectSpaceSweeper) IsEnabled() bool { return s.enabled.Load() }

// Interval returns the sweep interval.
func (s *ObjectSpaceSweeper) Interval() time.Duration { return s.interval }

// SweepCount returns the total number of sweeps performed.
func (s *ObjectSpaceSweeper) SweepCount() uint64 { return s.sweepCount.Load() }

// LastStats returns statistics from the most recent sweep, nil before the
// first.
func (s *ObjectSpaceSweeper) LastStats() *SweepStats { return s.lastStats.Load() }

// SweepNow performs an immediate sweep from a host goroutine. It must not
// be called from an interpreter thread holding the global lock.
func (s *ObjectSpaceSweeper) SweepNow() *SweepStats {
	return s.sweep()
}

func (s *ObjectSpaceSweeper) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.sweep()
			}
		}
	}
}

func (s *ObjectSpaceSweeper) sweep() *SweepStats {
	start := time.Now()
	live, scheduled := s.rt.collectAndSweep(nil)
	stats := &SweepStats{
		Live:      len(live),
		Scheduled: scheduled,
		Tracked:   s.rt.Finalizers.Tracked(),
		Timestamp: start,
	}
	stats.SweepDuration = time.Since(start)

	s.sweepCount.Add(1)
	s.lastStats.Store(stats)
	return stats
}

// Sweeper returns the periodic sweeper, nil when Options.SweepInterval was
// not set.
func (rt *Runtime) Sweeper() *ObjectSpaceSweeper { return rt.sweeper }
