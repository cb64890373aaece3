package vm

// LookupResult is the outcome of a method search together with every
// assumption consulted along the way. A cache entry built from the result
// stays valid only while all of them hold.
type LookupResult struct {
	Method      *MethodEntry
	Assumptions []*Assumption
}

// Found reports whether a callable method was found. An undef marker
// counts as not found.
func (r LookupResult) Found() bool {
	return r.Method != nil && !r.Method.Undefined
}

// LookupMethod searches m's own table, then its included modules (most
// recent first, each with its own includes), then the superclass chain.
// The search stops at the first entry, including undef markers.
func (m *Module) LookupMethod(name string) LookupResult {
	path := make([]*Assumption, 0, 8)
	for c := m; c != nil; {
		e, next, found := c.searchWithIncludes(name, &path)
		if found {
			return LookupResult{Method: e, Assumptions: path}
		}
		c = next
	}
	path = append(path, AlwaysValid)
	return LookupResult{Assumptions: path}
}

// searchWithIncludes looks in m and its includes, returning m's superclass
// to continue with when nothing matched.
func (m *Module) searchWithIncludes(name string, path *[]*Assumption) (*MethodEntry, *Module, bool) {
	m.mu.RLock()
	// Token first: a later change invalidates it before altering the table.
	*path = append(*path, m.unmodified)
	e, ok := m.methods[name]
	includes := m.includes
	super := m.superclass
	m.mu.RUnlock()

	if ok {
		return e, nil, true
	}
	for _, inc := range includes {
		if e, _, found := inc.searchWithIncludes(name, path); found {
			return e, nil, true
		}
	}
	return nil, super, false
}

// ConstantResult is the outcome of a constant search.
type ConstantResult struct {
	Value       Value
	Found       bool
	Assumptions []*Assumption
}

// LookupConstant searches m, then m's lexical parents, then m's ancestors,
// then Object.
func (m *Module) LookupConstant(name string) ConstantResult {
	var path []*Assumption
	visited := make(map[*Module]bool)
	try := func(mod *Module) (Value, bool) {
		if visited[mod] {
			return nil, false
		}
		visited[mod] = true
		v, ok, tok := mod.ownConstant(name)
		path = append(path, tok)
		return v, ok
	}

	for lex := m; lex != nil; lex = lex.lexicalParent {
		if v, ok := try(lex); ok {
			return ConstantResult{Value: v, Found: true, Assumptions: path}
		}
	}
	for _, anc := range m.Ancestors() {
		if v, ok := try(anc); ok {
			return ConstantResult{Value: v, Found: true, Assumptions: path}
		}
	}
	if v, ok := try(m.rt.ObjectClass); ok {
		return ConstantResult{Value: v, Found: true, Assumptions: path}
	}
	return ConstantResult{Assumptions: append(path, AlwaysValid)}
}
