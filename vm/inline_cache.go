package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// Inline Caching for Method Dispatch
//
// Every call site owns a CacheChain: an ordered list of guarded entries,
// each specialized to one receiver representation. Entries for unboxed
// receivers (guarded by category tag) come before the boxing boundary;
// entries for heap objects (guarded by shape and class) come after it.
// A miss looks the method up and appends an entry to its partition; once a
// site has seen more representations than the configured maximum it is
// replaced by the generic dispatcher for good.
//
// Entries are immutable. The chain publishes a new snapshot for every
// change, so a reader never observes a half-built chain.

var dispatchLog = commonlog.GetLogger("garnet.dispatch")

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheUninitialized CacheState = iota // No cached lookup yet
	CacheMonomorphic                     // Single entry
	CachePolymorphic                     // 2..max entries
	CacheMegamorphic                     // Too many representations, generic lookup
)

func (s CacheState) String() string {
	switch s {
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	default:
		return "uninitialized"
	}
}

// DefaultMaxEntries is the number of specialized entries a call site keeps
// before going megamorphic.
const DefaultMaxEntries = 8

type guardKind uint8

const (
	guardCategory guardKind = iota // unboxed receiver, by category tag
	guardShape                     // *Object, by shape and class
	guardClass                     // other heap objects, by class
	guardModule                    // constant reads, by scope module identity
)

// cacheEntry is one specialization. Everything but the hit counter is
// fixed at creation.
type cacheEntry struct {
	action   Action
	guard    guardKind
	category Category
	shape    *Shape
	class    *Module

	assumptions []*Assumption

	// Resolution. For calls and respond_to checks, method is nil when the
	// method is missing; missing and respondToMissing then hold user-level
	// hooks, nil meaning the default behavior.
	method           *MethodEntry
	missing          *MethodEntry
	respondToMissing *MethodEntry
	constant         Value
	found            bool

	hits atomic.Uint64
}

func (e *cacheEntry) matches(rt *Runtime, receiver Value, cat Category, action Action) bool {
	if e.action != action {
		return false
	}
	switch e.guard {
	case guardCategory:
		return e.category == cat
	case guardShape:
		obj, ok := receiver.(*Object)
		return ok && obj.shape == e.shape && obj.dispatchClass() == e.class
	case guardModule:
		mod, ok := receiver.(*Module)
		return ok && mod == e.class
	default:
		if _, isObj := receiver.(*Object); isObj {
			return false
		}
		return rt.ClassOf(receiver) == e.class
	}
}

// indirect reports whether the resolved method takes its declaration frame
// on every call.
func (e *cacheEntry) indirect() bool {
	return e.method != nil && e.method.IsIndirect()
}

type chainSnapshot struct {
	entries     []*cacheEntry
	boundary    int // index of the first boxed entry
	megamorphic bool
}

var emptySnapshot = &chainSnapshot{}

// CacheChain is the polymorphic inline cache of one call site.
type CacheChain struct {
	rt         *Runtime
	name       string
	selfCall   bool
	maxEntries int

	snap atomic.Pointer[chainSnapshot]

	// Statistics for profiling
	hits      atomic.Uint64
	misses    atomic.Uint64
	generic   atomic.Uint64
	respecial atomic.Uint64
	profile   *siteProfile // nil unless Options.Profile
}

// NewCacheChain creates an uninitialized chain for calls of name. selfCall
// marks sites with an implicit receiver, which may call private methods.
func (rt *Runtime) NewCacheChain(name string, selfCall bool) *CacheChain {
	c := &CacheChain{
		rt:         rt,
		name:       name,
		selfCall:   selfCall,
		maxEntries: rt.opts.MaxCacheEntries,
	}
	if rt.opts.Profile {
		c.profile = &siteProfile{}
	}
	c.snap.Store(emptySnapshot)
	rt.chains.register(c)
	return c
}

// Name returns the method or constant name the site dispatches.
func (c *CacheChain) Name() string { return c.name }

// State returns the chain's current state.
func (c *CacheChain) State() CacheState {
	snap := c.snap.Load()
	switch {
	case snap.megamorphic:
		return CacheMegamorphic
	case len(snap.entries) == 0:
		return CacheUninitialized
	case len(snap.entries) == 1:
		return CacheMonomorphic
	default:
		return CachePolymorphic
	}
}

// Len returns the number of specialized entries.
func (c *CacheChain) Len() int { return len(c.snap.Load().entries) }

// Hits returns the number of calls served by a cached entry.
func (c *CacheChain) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of calls that had to specialize.
func (c *CacheChain) Misses() uint64 { return c.misses.Load() }

// Generic returns the number of calls dispatched without the cache after
// the site went megamorphic.
func (c *CacheChain) Generic() uint64 { return c.generic.Load() }

// Calls returns the number of dispatches through the site.
func (c *CacheChain) Calls() uint64 {
	return c.hits.Load() + c.misses.Load() + c.generic.Load()
}

// Respecializations returns how many stale entries were replaced.
func (c *CacheChain) Respecializations() uint64 { return c.respecial.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (c *CacheChain) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears the chain back to the uninitialized state.
func (c *CacheChain) Reset() {
	c.snap.Store(emptySnapshot)
	c.hits.Store(0)
	c.misses.Store(0)
	c.generic.Store(0)
	c.respecial.Store(0)
	if c.profile != nil {
		c.profile.nanos.Store(0)
		c.profile.receivers.mu.Lock()
		c.profile.receivers.counts = nil
		c.profile.receivers.mu.Unlock()
	}
}

// Receivers returns the receiver representations the site is specialized
// for, in chain order, with the calls each one served.
func (c *CacheChain) Receivers() []ReceiverStat {
	entries := c.snap.Load().entries
	out := make([]ReceiverStat, 0, len(entries))
	for _, e := range entries {
		r := ReceiverStat{Class: e.class.Name(), Hits: e.hits.Load()}
		if e.guard == guardShape {
			for _, f := range e.shape.Fields() {
				r.Fields = append(r.Fields, f.Name)
			}
			if r.Fields == nil {
				r.Fields = []string{}
			}
		}
		out = append(out, r)
	}
	return out
}

// Dispatch performs action for receiver through the cache.
func (c *CacheChain) Dispatch(t *Thread, receiver Value, block *Proc, args []Value, action Action) (Value, error) {
	if c.profile == nil {
		return c.dispatch(t, receiver, block, args, action)
	}
	c.profile.receivers.add(c.rt.ClassOf(receiver).Name())
	start := time.Now()
	v, err := c.dispatch(t, receiver, block, args, action)
	c.profile.nanos.Add(int64(time.Since(start)))
	return v, err
}

func (c *CacheChain) dispatch(t *Thread, receiver Value, block *Proc, args []Value, action Action) (Value, error) {
	snap := c.snap.Load()
	if snap.megamorphic {
		c.generic.Add(1)
		return c.rt.dispatchGeneric(t, receiver, c.name, block, args, action, c.selfCall)
	}

	cat := CategoryOf(receiver)
	part := snap.entries[snap.boundary:]
	if cat.Unboxed() {
		part = snap.entries[:snap.boundary]
	} else if obj, ok := receiver.(*Object); ok {
		c.rt.currentShape(obj)
	}
	for _, e := range part {
		if !e.matches(c.rt, receiver, cat, action) {
			continue
		}
		if !AllValid(e.assumptions) {
			c.respecial.Add(1)
			return c.specialize(t, receiver, block, args, action, e)
		}
		c.hits.Add(1)
		e.hits.Add(1)
		return c.rt.executeEntry(t, e, c.name, c.selfCall, receiver, block, args)
	}
	c.misses.Add(1)
	return c.specialize(t, receiver, block, args, action, nil)
}

// specialize resolves receiver, publishes a snapshot with the new entry
// (dropping stale and invalidated ones) and executes it. The chain goes
// megamorphic instead when the entry would not fit.
func (c *CacheChain) specialize(t *Thread, receiver Value, block *Proc, args []Value, action Action, stale *cacheEntry) (Value, error) {
	e, err := c.rt.resolveEntry(receiver, c.name, action)
	if err != nil {
		return nil, err
	}

	old := c.snap.Load()
	if old.megamorphic {
		return c.rt.executeEntry(t, e, c.name, c.selfCall, receiver, block, args)
	}
	var unboxed, boxed []*cacheEntry
	for i, x := range old.entries {
		if x == stale || !AllValid(x.assumptions) {
			continue
		}
		if i < old.boundary {
			unboxed = append(unboxed, x)
		} else {
			boxed = append(boxed, x)
		}
	}

	if len(unboxed)+len(boxed)+1 > c.maxEntries {
		c.snap.Store(&chainSnapshot{megamorphic: true})
		dispatchLog.Infof("call site %q went megamorphic after %d entries", c.name, len(unboxed)+len(boxed))
		return c.rt.executeEntry(t, e, c.name, c.selfCall, receiver, block, args)
	}

	if e.guard == guardCategory {
		unboxed = append(unboxed, e)
	} else {
		boxed = append(boxed, e)
	}
	entries := make([]*cacheEntry, 0, len(unboxed)+len(boxed))
	entries = append(entries, unboxed...)
	entries = append(entries, boxed...)
	c.snap.Store(&chainSnapshot{entries: entries, boundary: len(unboxed)})
	dispatchLog.Debugf("call site %q specialized for %s (%d entries)", c.name, e.class.Name(), len(entries))

	return c.rt.executeEntry(t, e, c.name, c.selfCall, receiver, block, args)
}

// ---------------------------------------------------------------------------
// Site registry
// ---------------------------------------------------------------------------

// siteRegistry tracks every cache a runtime creates, for statistics.
type siteRegistry[T any] struct {
	mu    sync.Mutex
	sites []T
}

func (r *siteRegistry[T]) register(site T) {
	r.mu.Lock()
	r.sites = append(r.sites, site)
	r.mu.Unlock()
}

func (r *siteRegistry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.sites))
	copy(out, r.sites)
	return out
}
