package vm

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// GlobalLock is the interpreter-wide lock. A thread runs language code only
// while holding it; dispatch chains, shape transitions and method tables
// are mutated under it.
//
// The mutex comes from go-deadlock so a stuck lock can be reported when
// deadlock detection is switched on (deadlock.Opts, configured by the CLI).
type GlobalLock struct {
	mu     deadlock.Mutex
	holder atomic.Pointer[Thread]

	waiting      atomic.Int32
	acquisitions atomic.Uint64
}

func (g *GlobalLock) acquire(t *Thread) {
	g.waiting.Add(1)
	g.mu.Lock()
	g.waiting.Add(-1)
	g.holder.Store(t)
	g.acquisitions.Add(1)
}

func (g *GlobalLock) release(t *Thread) {
	g.holder.CompareAndSwap(t, nil)
	g.mu.Unlock()
}

// Holder returns the thread holding the lock, nil when free or held by a
// host goroutine.
func (g *GlobalLock) Holder() *Thread { return g.holder.Load() }

// Waiting returns the number of goroutines blocked acquiring the lock.
func (g *GlobalLock) Waiting() int { return int(g.waiting.Load()) }

// Acquisitions returns how many times the lock was taken.
func (g *GlobalLock) Acquisitions() uint64 { return g.acquisitions.Load() }
