package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Module: modules, classes and singleton classes
// ---------------------------------------------------------------------------

// ModuleKind distinguishes plain modules from classes.
type ModuleKind uint8

const (
	ModuleKindModule ModuleKind = iota
	ModuleKindClass
	ModuleKindSingleton
)

// Module is a method and constant container. Classes are modules with a
// superclass; every module gets a singleton class (its metaclass) when it
// is created, so class-level methods resolve through ordinary lookup.
//
// A module is itself an object: class-level instance variables go through
// the embedded Object's shape like any other field.
//
// Each structural change (method table, constants, includes, superclass)
// invalidates the module's current Assumption and installs a fresh one.
type Module struct {
	Object

	rt            *Runtime
	name          string
	kind          ModuleKind
	lexicalParent *Module
	attached      Value // singleton classes only

	mu         sync.RWMutex
	superclass *Module
	includes   []*Module // most recently included first
	methods    map[string]*MethodEntry
	constants  map[string]Value
	constOrder []string
	unmodified *Assumption
}

// Name returns the module's name. Singleton classes render as
// #<Class:Owner>.
func (m *Module) Name() string {
	if m.kind == ModuleKindSingleton {
		return "#<Class:" + Inspect(m.attached) + ">"
	}
	if m.name == "" {
		return "#<Module:anonymous>"
	}
	return m.name
}

func (m *Module) String() string { return m.Name() }

// Kind returns whether m is a module, class or singleton class.
func (m *Module) Kind() ModuleKind { return m.kind }

// IsClass reports whether m is a class (including singleton classes).
func (m *Module) IsClass() bool { return m.kind != ModuleKindModule }

// IsSingleton reports whether m is a singleton class.
func (m *Module) IsSingleton() bool { return m.kind == ModuleKindSingleton }

// Attached returns the object a singleton class belongs to.
func (m *Module) Attached() Value { return m.attached }

// Metaclass returns the module's singleton class.
func (m *Module) Metaclass() *Module { return m.singleton }

// LexicalParent returns the module m was defined in, nil at top level.
func (m *Module) LexicalParent() *Module { return m.lexicalParent }

// Superclass returns the superclass, nil for modules and the root class.
func (m *Module) Superclass() *Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.superclass
}

// Includes returns the directly included modules, most recent first.
func (m *Module) Includes() []*Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Module, len(m.includes))
	copy(out, m.includes)
	return out
}

// Unmodified returns the assumption invalidated by the next structural
// change to m.
func (m *Module) Unmodified() *Assumption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unmodified
}

// changed installs a fresh assumption and revokes the old one.
// Caller holds m.mu for writing.
func (m *Module) changed() {
	old := m.unmodified
	m.unmodified = NewAssumption(m.name + " unmodified")
	old.Invalidate()
}

// ---------------------------------------------------------------------------
// Method table write surface
// ---------------------------------------------------------------------------

// DefineMethod publishes entry in m's method table, replacing any own entry
// with the same name.
func (m *Module) DefineMethod(entry *MethodEntry) *MethodEntry {
	if entry.Owner == nil {
		entry.Owner = m
	}
	m.mu.Lock()
	m.methods[entry.Name] = entry
	m.changed()
	m.mu.Unlock()
	dispatchLog.Debugf("defined %s", entry)
	return entry
}

// AliasMethod makes newName refer to the method currently found for
// oldName.
func (m *Module) AliasMethod(newName, oldName string) error {
	res := m.LookupMethod(oldName)
	if !res.Found() {
		return m.undefinedMethodError(oldName)
	}
	m.DefineMethod(res.Method.withOwner(m, newName))
	return nil
}

// UndefMethod stops method lookup for name at m: instances behave as if
// the method did not exist, even when an ancestor defines it.
func (m *Module) UndefMethod(name string) error {
	if !m.LookupMethod(name).Found() {
		return m.undefinedMethodError(name)
	}
	m.DefineMethod(&MethodEntry{Name: name, Owner: m, Undefined: true})
	return nil
}

// RemoveMethod deletes m's own entry for name so an inherited method, if
// any, becomes visible again.
func (m *Module) RemoveMethod(name string) error {
	m.mu.Lock()
	e, ok := m.methods[name]
	if !ok || e.Undefined {
		m.mu.Unlock()
		return m.rt.Raise(m.rt.NameError, "method '%s' not defined in %s", name, m.Name())
	}
	delete(m.methods, name)
	m.changed()
	m.mu.Unlock()
	return nil
}

// SetVisibility installs a copy of the method found for name with the new
// visibility. An inherited method is copied into m.
func (m *Module) SetVisibility(name string, vis Visibility) error {
	res := m.LookupMethod(name)
	if !res.Found() {
		return m.undefinedMethodError(name)
	}
	entry := res.Method.WithVisibility(vis)
	if entry.Owner != m {
		entry = entry.withOwner(m, name)
	}
	m.DefineMethod(entry)
	return nil
}

// ModuleFunction copies name to m's singleton class as a public method and
// makes the instance-side copy private.
func (m *Module) ModuleFunction(name string) error {
	res := m.LookupMethod(name)
	if !res.Found() {
		return m.undefinedMethodError(name)
	}
	m.singleton.DefineMethod(res.Method.withOwner(m.singleton, name).WithVisibility(Public))
	return m.SetVisibility(name, Private)
}

// Include inserts mod ahead of previously included modules. Including a
// module twice is a no-op.
func (m *Module) Include(mod *Module) error {
	if mod.IsClass() {
		return m.rt.Raise(m.rt.TypeError, "wrong argument type %s (expected Module)", mod.Name())
	}
	if mod == m || mod.includesModule(m) {
		return m.rt.Raise(m.rt.ArgumentError, "cyclic include detected")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inc := range m.includes {
		if inc == mod {
			return nil
		}
	}
	m.includes = append([]*Module{mod}, m.includes...)
	m.changed()
	return nil
}

func (m *Module) includesModule(target *Module) bool {
	for _, inc := range m.Includes() {
		if inc == target || inc.includesModule(target) {
			return true
		}
	}
	return false
}

// SetSuperclass reparents a class. Its metaclass follows.
func (m *Module) SetSuperclass(super *Module) error {
	if !m.IsClass() || (super != nil && !super.IsClass()) {
		return m.rt.Raise(m.rt.TypeError, "superclass must be a Class")
	}
	for c := super; c != nil; c = c.Superclass() {
		if c == m {
			return m.rt.Raise(m.rt.TypeError, "superclass would create a cycle")
		}
	}
	m.mu.Lock()
	m.superclass = super
	m.changed()
	m.mu.Unlock()
	if m.singleton != nil && m.kind == ModuleKindClass {
		meta := m.rt.ClassClass
		if super != nil {
			meta = super.singleton
		}
		m.singleton.mu.Lock()
		m.singleton.superclass = meta
		m.singleton.changed()
		m.singleton.mu.Unlock()
	}
	return nil
}

// DefineAttrReader defines a method returning field "@name".
func (m *Module) DefineAttrReader(name string) *MethodEntry {
	field := "@" + name
	return m.Def0(name, func(t *Thread, self Value) (Value, error) {
		obj := fieldHolder(self)
		if obj == nil {
			return nil, nil
		}
		v, _ := t.rt.ReadField(obj, field)
		return v, nil
	})
}

// DefineAttrWriter defines a method "name=" storing field "@name".
func (m *Module) DefineAttrWriter(name string) *MethodEntry {
	field := "@" + name
	return m.Def1(name+"=", func(t *Thread, self, v Value) (Value, error) {
		obj := fieldHolder(self)
		if obj == nil {
			return nil, t.rt.Raise(t.rt.RuntimeError, "can't modify frozen %s", t.rt.ClassOf(self).Name())
		}
		t.rt.WriteField(obj, field, v)
		return v, nil
	})
}

// DefineAttrAccessor defines both reader and writer.
func (m *Module) DefineAttrAccessor(name string) {
	m.DefineAttrReader(name)
	m.DefineAttrWriter(name)
}

func (m *Module) undefinedMethodError(name string) error {
	kind := "class"
	if !m.IsClass() {
		kind = "module"
	}
	return m.rt.Raise(m.rt.NameError, "undefined method '%s' for %s '%s'", name, kind, m.Name())
}

// ---------------------------------------------------------------------------
// Reflection
// ---------------------------------------------------------------------------

// Ancestors returns the method resolution order starting at m.
func (m *Module) Ancestors() []*Module {
	var out []*Module
	for c := m; c != nil; c = c.Superclass() {
		out = appendWithIncludes(out, c)
	}
	return out
}

func appendWithIncludes(out []*Module, m *Module) []*Module {
	out = append(out, m)
	for _, inc := range m.Includes() {
		out = appendWithIncludes(out, inc)
	}
	return out
}

// IsSubmoduleOf reports whether target appears in m's ancestors.
func (m *Module) IsSubmoduleOf(target *Module) bool {
	for c := m; c != nil; c = c.Superclass() {
		if c == target || c.includesModule(target) {
			return true
		}
	}
	return false
}

// MethodDefined reports whether a public or protected method name is
// reachable from m.
func (m *Module) MethodDefined(name string) bool {
	res := m.LookupMethod(name)
	return res.Found() && res.Method.Visibility != Private
}

// InstanceMethods returns the sorted names of public and protected methods
// defined in m, or reachable from m when inherited is set.
func (m *Module) InstanceMethods(inherited bool) []string {
	seen := make(map[string]bool)
	var names []string
	modules := []*Module{m}
	if inherited {
		modules = m.Ancestors()
	}
	for _, mod := range modules {
		mod.mu.RLock()
		for name, e := range mod.methods {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !e.Undefined && e.Visibility != Private {
				names = append(names, name)
			}
		}
		mod.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// SetConstant binds name in m's constant table.
func (m *Module) SetConstant(name string, v Value) {
	m.mu.Lock()
	if _, ok := m.constants[name]; !ok {
		m.constOrder = append(m.constOrder, name)
	}
	m.constants[name] = v
	m.changed()
	m.mu.Unlock()
	if mod, ok := v.(*Module); ok && mod.name == "" {
		if m == m.rt.ObjectClass {
			mod.name = name
		} else {
			mod.name = m.Name() + "::" + name
		}
	}
}

// Constants returns m's own constant names in definition order.
func (m *Module) Constants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.constOrder))
	copy(out, m.constOrder)
	return out
}

func (m *Module) ownConstant(name string) (Value, bool, *Assumption) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.constants[name]
	return v, ok, m.unmodified
}

// ---------------------------------------------------------------------------
// Graph
// ---------------------------------------------------------------------------

func (m *Module) visitReferents(fn func(Value)) {
	m.Object.visitReferents(fn)
	if m.attached != nil {
		fn(m.attached)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.superclass != nil {
		fn(m.superclass)
	}
	for _, inc := range m.includes {
		fn(inc)
	}
	for _, name := range m.constOrder {
		fn(m.constants[name])
	}
	for _, e := range m.methods {
		if e.DeclarationFrame != nil {
			e.DeclarationFrame.visitValues(fn)
		}
		if r, ok := e.Body.(interface{ visitReferents(func(Value)) }); ok {
			r.visitReferents(fn)
		}
	}
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

func (rt *Runtime) newModule(name string, kind ModuleKind, super *Module) *Module {
	m := &Module{
		rt:         rt,
		name:       name,
		kind:       kind,
		superclass: super,
		methods:    make(map[string]*MethodEntry),
		constants:  make(map[string]Value),
		unmodified: NewAssumption(name + " unmodified"),
	}
	m.Object = Object{id: rt.allocID(), shape: rt.Shapes.Root()}
	return m
}

// attachMetaclass gives a class or module its singleton class.
func (rt *Runtime) attachMetaclass(m *Module) {
	var metaSuper *Module
	switch {
	case m.kind == ModuleKindModule:
		metaSuper = rt.ModuleClass
	case m.superclass != nil:
		metaSuper = m.superclass.singleton
	default:
		metaSuper = rt.ClassClass
	}
	meta := rt.newModule("", ModuleKindSingleton, metaSuper)
	meta.attached = m
	meta.class = rt.ClassClass
	m.singleton = meta
}

// DefineClass creates a class under lexical parent (nil for top level) and
// binds it as a constant there. super nil means Object.
func (rt *Runtime) DefineClass(name string, super *Module, parent *Module) *Module {
	if super == nil {
		super = rt.ObjectClass
	}
	if parent == nil {
		parent = rt.ObjectClass
	}
	c := rt.NewClass(super)
	c.lexicalParent = parent
	parent.SetConstant(name, c)
	return c
}

// DefineModule creates a module under lexical parent (nil for top level).
func (rt *Runtime) DefineModule(name string, parent *Module) *Module {
	if parent == nil {
		parent = rt.ObjectClass
	}
	m := rt.NewModule()
	m.lexicalParent = parent
	parent.SetConstant(name, m)
	return m
}

// SingletonClassOf returns v's singleton class, creating it for objects
// that lack one. Unboxed values have no singleton class.
func (rt *Runtime) SingletonClassOf(v Value) (*Module, error) {
	switch x := v.(type) {
	case *Module:
		return x.singleton, nil
	case *Object:
		if x.singleton == nil {
			s := rt.newModule("", ModuleKindSingleton, x.class)
			s.attached = x
			s.class = rt.ClassClass
			x.singleton = s
		}
		return x.singleton, nil
	default:
		return nil, rt.Raise(rt.TypeError, "can't define singleton")
	}
}
