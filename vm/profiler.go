package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Profiling
// ---------------------------------------------------------------------------

// With Options.Profile set, every call site times its dispatches and counts
// the classes of its receivers, loops and yields count their iterations,
// and instance-variable sites count the classes of the values they read
// and write. Without it the nodes carry no profile and pay one nil check.

// TypeCount is how often one class was seen at a site.
type TypeCount struct {
	Name  string
	Count uint64
}

// typeCounts is a class-name histogram.
type typeCounts struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (tc *typeCounts) add(name string) {
	tc.mu.Lock()
	if tc.counts == nil {
		tc.counts = make(map[string]uint64)
	}
	tc.counts[name]++
	tc.mu.Unlock()
}

// sorted returns the histogram, most frequent first, ties by name.
func (tc *typeCounts) sorted() []TypeCount {
	tc.mu.Lock()
	out := make([]TypeCount, 0, len(tc.counts))
	for name, n := range tc.counts {
		out = append(out, TypeCount{Name: name, Count: n})
	}
	tc.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// siteProfile is the timing and receiver histogram of one call site.
type siteProfile struct {
	nanos     atomic.Int64
	receivers typeCounts
}

// elapsed returns the cumulative time spent in dispatches, callees
// included.
func (p *siteProfile) elapsed() time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(p.nanos.Load())
}

func (p *siteProfile) distribution() []TypeCount {
	if p == nil {
		return nil
	}
	return p.receivers.sorted()
}

// LoopKind distinguishes while loops from block yields.
type LoopKind uint8

const (
	LoopWhile LoopKind = iota
	LoopYield
)

func (k LoopKind) String() string {
	if k == LoopYield {
		return "yield"
	}
	return "while"
}

// LoopCounter counts how often a loop was entered and how many iterations
// it ran. For a yield, every block call is an iteration of the method that
// yields.
type LoopCounter struct {
	kind       LoopKind
	entries    atomic.Uint64
	iterations atomic.Uint64
}

// loopCounter returns the counter behind p, creating it on first use, or
// nil when the runtime is not profiling.
func (rt *Runtime) loopCounter(p *atomic.Pointer[LoopCounter], kind LoopKind) *LoopCounter {
	if !rt.opts.Profile {
		return nil
	}
	if lc := p.Load(); lc != nil {
		return lc
	}
	lc := &LoopCounter{kind: kind}
	if !p.CompareAndSwap(nil, lc) {
		return p.Load()
	}
	rt.loops.register(lc)
	return lc
}

// LoopStat describes one profiled loop.
type LoopStat struct {
	Kind       LoopKind
	Entries    uint64
	Iterations uint64
}

// FieldStat describes one profiled instance-variable site.
type FieldStat struct {
	Name   string
	State  CacheState
	Hits   uint64
	Misses uint64
	Values []TypeCount
}

// ProfileStats is everything the profiler gathered.
type ProfileStats struct {
	Enabled bool
	Sites   []SiteStat  // by cumulative time
	Loops   []LoopStat  // by iterations
	Fields  []FieldStat // by accesses
}

// Profiling reports whether the runtime collects profiles.
func (rt *Runtime) Profiling() bool { return rt.opts.Profile }

// Profile returns the profile gathered so far. It is empty unless
// Options.Profile was set.
func (rt *Runtime) Profile() ProfileStats {
	p := ProfileStats{Enabled: rt.opts.Profile}
	if !p.Enabled {
		return p
	}

	p.Sites = rt.siteStats()
	sort.SliceStable(p.Sites, func(i, j int) bool { return p.Sites[i].Time > p.Sites[j].Time })

	for _, lc := range rt.loops.snapshot() {
		p.Loops = append(p.Loops, LoopStat{
			Kind:       lc.kind,
			Entries:    lc.entries.Load(),
			Iterations: lc.iterations.Load(),
		})
	}
	sort.SliceStable(p.Loops, func(i, j int) bool { return p.Loops[i].Iterations > p.Loops[j].Iterations })

	for _, fc := range rt.fieldCaches.snapshot() {
		fs := FieldStat{
			Name:   fc.name,
			State:  fc.State(),
			Hits:   fc.Hits(),
			Misses: fc.Misses(),
		}
		if fc.values != nil {
			fs.Values = fc.values.sorted()
		}
		p.Fields = append(p.Fields, fs)
	}
	sort.SliceStable(p.Fields, func(i, j int) bool {
		return p.Fields[i].Hits+p.Fields[i].Misses > p.Fields[j].Hits+p.Fields[j].Misses
	})
	return p
}
