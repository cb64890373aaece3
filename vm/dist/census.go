// Package dist encodes live-object censuses and cache statistics of a
// garnet runtime as CBOR, so they can be shipped to another process or
// stored and compared later.
package dist

import (
	"sort"
	"time"

	"github.com/chazu/garnet/vm"
	"github.com/google/uuid"
)

// Census is a snapshot of one runtime's heap and adaptive caches.
type Census struct {
	RuntimeID  uuid.UUID      `cbor:"1,keyasint"`
	Taken      time.Time      `cbor:"2,keyasint"`
	Objects    int            `cbor:"3,keyasint"`
	Classes    map[string]int `cbor:"4,keyasint"`
	Threads    int            `cbor:"5,keyasint"`
	Safepoints uint64         `cbor:"6,keyasint"`
	Shapes     int64          `cbor:"7,keyasint"`
	Cache      CacheStats     `cbor:"8,keyasint"`
	Finalizers FinalizerStats `cbor:"9,keyasint"`
}

// CacheStats mirrors vm.ICStats plus the busiest call sites.
type CacheStats struct {
	CallSites         int        `cbor:"1,keyasint"`
	Monomorphic       int        `cbor:"2,keyasint"`
	Polymorphic       int        `cbor:"3,keyasint"`
	Megamorphic       int        `cbor:"4,keyasint"`
	Empty             int        `cbor:"5,keyasint"`
	Hits              uint64     `cbor:"6,keyasint"`
	Misses            uint64     `cbor:"7,keyasint"`
	Respecializations uint64     `cbor:"8,keyasint"`
	FieldSites        int        `cbor:"9,keyasint"`
	FieldHits         uint64     `cbor:"10,keyasint"`
	FieldMisses       uint64     `cbor:"11,keyasint"`
	Hot               []SiteStat `cbor:"12,keyasint,omitempty"`
	GenericCalls      uint64     `cbor:"13,keyasint"`
}

// SiteStat describes one call site. Time and Types are only recorded by
// profiling runtimes.
type SiteStat struct {
	Name      string            `cbor:"1,keyasint"`
	State     string            `cbor:"2,keyasint"`
	Entries   int               `cbor:"3,keyasint"`
	Hits      uint64            `cbor:"4,keyasint"`
	Misses    uint64            `cbor:"5,keyasint"`
	Calls     uint64            `cbor:"6,keyasint"`
	Generic   uint64            `cbor:"7,keyasint"`
	Receivers []ReceiverStat    `cbor:"8,keyasint,omitempty"`
	Time      time.Duration     `cbor:"9,keyasint,omitempty"`
	Types     map[string]uint64 `cbor:"10,keyasint,omitempty"`
}

// ReceiverStat is one cached specialization of a call site.
type ReceiverStat struct {
	Class  string   `cbor:"1,keyasint"`
	Fields []string `cbor:"2,keyasint,omitempty"`
	Hits   uint64   `cbor:"3,keyasint"`
}

// FinalizerStats summarizes the finalization manager.
type FinalizerStats struct {
	Tracked int    `cbor:"1,keyasint"`
	Pending int    `cbor:"2,keyasint"`
	Ran     uint64 `cbor:"3,keyasint"`
	Failed  uint64 `cbor:"4,keyasint"`
}

// HotSites is how many call sites a census records.
const HotSites = 10

// TakeCensus counts rt's live objects by class through a safepoint. t is
// the calling interpreter thread, or nil from a host goroutine.
func TakeCensus(rt *vm.Runtime, t *vm.Thread) *Census {
	c := &Census{
		RuntimeID: rt.ID(),
		Taken:     time.Now().UTC(),
		Classes:   make(map[string]int),
	}
	c.Objects = rt.EachObject(t, nil, func(h vm.HeapObject) {
		c.Classes[rt.RealClassOf(h).Name()]++
	})
	c.Threads = len(rt.Threads())
	c.Safepoints = rt.Safepoints().Count()
	c.Shapes = rt.Shapes.ShapeCount()

	ic := rt.CacheStats()
	c.Cache = CacheStats{
		CallSites:         ic.TotalCallSites,
		Monomorphic:       ic.Monomorphic,
		Polymorphic:       ic.Polymorphic,
		Megamorphic:       ic.Megamorphic,
		Empty:             ic.Empty,
		Hits:              ic.TotalHits,
		Misses:            ic.TotalMisses,
		Respecializations: ic.Respecializations,
		FieldSites:        ic.FieldSites,
		FieldHits:         ic.FieldHits,
		FieldMisses:       ic.FieldMisses,
		GenericCalls:      ic.GenericCalls,
	}
	for _, s := range rt.HottestSites(HotSites) {
		site := SiteStat{
			Name:    s.Name,
			State:   s.State.String(),
			Entries: s.Entries,
			Hits:    s.Hits,
			Misses:  s.Misses,
			Calls:   s.Calls,
			Generic: s.Generic,
			Time:    s.Time,
		}
		for _, r := range s.Receivers {
			site.Receivers = append(site.Receivers, ReceiverStat{Class: r.Class, Fields: r.Fields, Hits: r.Hits})
		}
		if len(s.Types) > 0 {
			site.Types = make(map[string]uint64, len(s.Types))
			for _, tc := range s.Types {
				site.Types[tc.Name] = tc.Count
			}
		}
		c.Cache.Hot = append(c.Cache.Hot, site)
	}

	fm := rt.Finalizers
	c.Finalizers = FinalizerStats{
		Tracked: fm.Tracked(),
		Pending: fm.Pending(),
		Ran:     fm.Ran(),
		Failed:  fm.Failed(),
	}
	return c
}

// ClassCount is one row of a census.
type ClassCount struct {
	Class string
	Count int
}

// TopClasses returns the n most populous classes, ties broken by name.
func (c *Census) TopClasses(n int) []ClassCount {
	out := make([]ClassCount, 0, len(c.Classes))
	for name, count := range c.Classes {
		out = append(out, ClassCount{Class: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Diff returns the per-class change in object count from prev to c.
// Classes whose count did not change are omitted.
func (c *Census) Diff(prev *Census) map[string]int {
	out := make(map[string]int)
	for name, n := range c.Classes {
		if d := n - prev.Classes[name]; d != 0 {
			out[name] = d
		}
	}
	for name, n := range prev.Classes {
		if _, ok := c.Classes[name]; !ok {
			out[name] = -n
		}
	}
	return out
}
