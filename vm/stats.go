package vm

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Cache statistics
// ---------------------------------------------------------------------------

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalCallSites    int     // Call sites with a cache chain
	Monomorphic       int     // Call sites in monomorphic state
	Polymorphic       int     // Call sites in polymorphic state
	Megamorphic       int     // Call sites in megamorphic state
	Empty             int     // Call sites never used
	Entries           int     // Specialized entries across all chains
	IndirectEntries   int     // Entries invoking closure-defined methods
	TotalHits         uint64  // Total cache hits
	TotalMisses       uint64  // Total cache misses
	GenericCalls      uint64  // Calls served by megamorphic sites
	Respecializations uint64  // Entries replaced after invalidation
	HitRate           float64 // Overall hit rate percentage
	MonomorphicRate   float64 // Percentage of used call sites that are monomorphic

	FieldSites       int    // Instance-variable access sites
	FieldMegamorphic int    // Field sites that stopped caching
	FieldHits        uint64 // Field accesses served by a cache
	FieldMisses      uint64 // Field accesses that went to the shape table
}

// SiteStat describes one call site.
type SiteStat struct {
	Name      string
	State     CacheState
	Entries   int
	Calls     uint64
	Hits      uint64
	Misses    uint64
	Generic   uint64
	Receivers []ReceiverStat

	// Filled in only when profiling.
	Time  time.Duration // cumulative, callees included
	Types []TypeCount   // class of every receiver seen
}

// ReceiverStat is one cached specialization of a call site.
type ReceiverStat struct {
	Class  string
	Fields []string // the guarded shape's fields, nil for non-object receivers
	Hits   uint64
}

// CacheStats aggregates statistics from every cache the runtime created.
func (rt *Runtime) CacheStats() ICStats {
	var stats ICStats

	for _, c := range rt.chains.snapshot() {
		stats.TotalCallSites++
		switch c.State() {
		case CacheMonomorphic:
			stats.Monomorphic++
		case CachePolymorphic:
			stats.Polymorphic++
		case CacheMegamorphic:
			stats.Megamorphic++
		default:
			stats.Empty++
		}
		for _, e := range c.snap.Load().entries {
			stats.Entries++
			if e.indirect() {
				stats.IndirectEntries++
			}
		}
		stats.TotalHits += c.Hits()
		stats.TotalMisses += c.Misses()
		stats.GenericCalls += c.Generic()
		stats.Respecializations += c.Respecializations()
	}

	for _, fc := range rt.fieldCaches.snapshot() {
		stats.FieldSites++
		if fc.State() == CacheMegamorphic {
			stats.FieldMegamorphic++
		}
		stats.FieldHits += fc.Hits()
		stats.FieldMisses += fc.Misses()
	}

	// Calculate rates
	total := stats.TotalHits + stats.TotalMisses
	if total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	nonEmpty := stats.TotalCallSites - stats.Empty
	if nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}

	return stats
}

func (rt *Runtime) siteStats() []SiteStat {
	chains := rt.chains.snapshot()
	out := make([]SiteStat, 0, len(chains))
	for _, c := range chains {
		out = append(out, SiteStat{
			Name:      c.Name(),
			State:     c.State(),
			Entries:   c.Len(),
			Calls:     c.Calls(),
			Hits:      c.Hits(),
			Misses:    c.Misses(),
			Generic:   c.Generic(),
			Receivers: c.Receivers(),
			Time:      c.profile.elapsed(),
			Types:     c.profile.distribution(),
		})
	}
	return out
}

// HottestSites returns up to n call sites ordered by total traffic.
func (rt *Runtime) HottestSites(n int) []SiteStat {
	out := rt.siteStats()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Calls > out[j].Calls })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
