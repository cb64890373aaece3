package vm

import "sync"

// ---------------------------------------------------------------------------
// Symbol: interned names
// ---------------------------------------------------------------------------

// Symbol is an interned name. Two symbols with the same name are the same
// pointer, so symbols compare with ==.
type Symbol struct {
	id   uint32
	name string
}

// Name returns the symbol's text.
func (s *Symbol) Name() string { return s.name }

// ID returns the symbol's table index.
func (s *Symbol) ID() uint32 { return s.id }

func (s *Symbol) String() string { return ":" + s.name }

// SymbolTable interns symbol names.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]*Symbol
	byID   []*Symbol
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]*Symbol),
		byID:   make([]*Symbol, 0, 256),
	}
}

// Intern returns the symbol for name, creating it if needed.
func (st *SymbolTable) Intern(name string) *Symbol {
	// Fast path: read-only lookup
	st.mu.RLock()
	if sym, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return sym
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if sym, ok := st.byName[name]; ok {
		return sym
	}

	sym := &Symbol{id: uint32(len(st.byID)), name: name}
	st.byName[name] = sym
	st.byID = append(st.byID, sym)
	return sym
}

// Lookup returns the symbol for name without creating it.
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sym, ok := st.byName[name]
	return sym, ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// All returns all symbol names in interning order.
func (st *SymbolTable) All() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	names := make([]string, len(st.byID))
	for i, sym := range st.byID {
		names[i] = sym.name
	}
	return names
}
