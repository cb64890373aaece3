package vm

import "sync/atomic"

// Assumption is a revocable validity flag. Code specialized on some fact
// (a method table's contents, a shape's layout, "no safepoint pending")
// captures the Assumption and re-checks IsValid before relying on the fact.
// Once invalidated an Assumption never becomes valid again; the owner
// installs a fresh one instead.
type Assumption struct {
	name    string
	invalid atomic.Bool
	fixed   bool
}

// NewAssumption returns a valid assumption.
func NewAssumption(name string) *Assumption {
	return &Assumption{name: name}
}

// AlwaysValid terminates every lookup path. It cannot be invalidated.
var AlwaysValid = &Assumption{name: "always valid", fixed: true}

// Name returns the diagnostic name given at creation.
func (a *Assumption) Name() string { return a.name }

// IsValid reports whether the assumption still holds.
func (a *Assumption) IsValid() bool {
	return !a.invalid.Load()
}

// Invalidate revokes the assumption. Invalidating twice is harmless.
func (a *Assumption) Invalidate() {
	if a.fixed {
		return
	}
	a.invalid.Store(true)
}

// AllValid reports whether every assumption in the list holds.
func AllValid(as []*Assumption) bool {
	for _, a := range as {
		if !a.IsValid() {
			return false
		}
	}
	return true
}
