package vm

// ---------------------------------------------------------------------------
// Module and Class primitives
// ---------------------------------------------------------------------------

// moduleMethod adapts a builtin whose receiver is always a module.
func moduleMethod(fn func(t *Thread, m *Module, inv *Invocation) (Value, error)) BuiltinFunc {
	return func(t *Thread, inv *Invocation) (Value, error) {
		m, ok := inv.Self.(*Module)
		if !ok {
			return nil, t.rt.Raise(t.rt.TypeError, "%s is not a class/module", Inspect(inv.Self))
		}
		return fn(t, m, inv)
	}
}

func (rt *Runtime) registerModulePrimitives() {
	c := rt.ModuleClass

	c.DefN("name", Arity{}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		if m.name == "" {
			return nil, nil
		}
		return m.Name(), nil
	}))
	c.DefN("to_s", Arity{}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		return m.Name(), nil
	}))
	c.DefN("===", Arity{Required: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		return rt.IsKindOf(inv.Args[0], m), nil
	}))
	c.DefN("ancestors", Arity{}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		arr := rt.NewArray()
		for _, a := range m.Ancestors() {
			arr.Push(a)
		}
		return arr, nil
	}))

	// Method table
	c.DefN("define_method", Arity{Required: 1, Optional: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		body := inv.Block
		if len(inv.Args) > 1 {
			p, ok := inv.Args[1].(*Proc)
			if !ok {
				return nil, rt.Raise(rt.TypeError, "wrong argument type %s (expected Proc)", rt.ClassOf(inv.Args[1]).Name())
			}
			body = p
		}
		if body == nil {
			return nil, rt.Raise(rt.ArgumentError, "tried to create Proc object without a block")
		}
		m.DefineMethodFromProc(name, body)
		return rt.Symbols.Intern(name), nil
	}))
	c.DefN("alias_method", Arity{Required: 2}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		newName, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		oldName, err := rt.nameArg(inv.Args[1])
		if err != nil {
			return nil, err
		}
		if err := m.AliasMethod(newName, oldName); err != nil {
			return nil, err
		}
		return rt.Symbols.Intern(newName), nil
	}))
	c.DefN("undef_method", AnyArity, rt.eachName(func(m *Module, name string) error {
		return m.UndefMethod(name)
	}))
	c.DefN("remove_method", AnyArity, rt.eachName(func(m *Module, name string) error {
		return m.RemoveMethod(name)
	}))
	for vis, name := range map[Visibility]string{Public: "public", Private: "private", Protected: "protected"} {
		vis := vis
		c.DefN(name, AnyArity, rt.eachName(func(m *Module, name string) error {
			return m.SetVisibility(name, vis)
		}))
	}
	c.DefN("module_function", AnyArity, rt.eachName(func(m *Module, name string) error {
		return m.ModuleFunction(name)
	}))
	c.DefN("method_defined?", Arity{Required: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		return m.MethodDefined(name), nil
	}))
	c.DefN("instance_methods", Arity{Optional: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		inherited := len(inv.Args) == 0 || Truthy(inv.Args[0])
		arr := rt.NewArray()
		for _, name := range m.InstanceMethods(inherited) {
			arr.Push(rt.Symbols.Intern(name))
		}
		return arr, nil
	}))

	// Mixins
	c.DefN("include", Arity{Required: 1, Rest: true}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		for _, arg := range inv.Args {
			mod, err := rt.moduleArg(arg)
			if err != nil {
				return nil, err
			}
			if err := m.Include(mod); err != nil {
				return nil, err
			}
		}
		return m, nil
	}))
	c.DefN("include?", Arity{Required: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		mod, err := rt.moduleArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		return m != mod && !mod.IsClass() && m.IsSubmoduleOf(mod), nil
	}))

	// Attributes
	c.DefN("attr_reader", AnyArity, rt.eachName(func(m *Module, name string) error {
		m.DefineAttrReader(name)
		return nil
	}))
	c.DefN("attr_writer", AnyArity, rt.eachName(func(m *Module, name string) error {
		m.DefineAttrWriter(name)
		return nil
	}))
	c.DefN("attr_accessor", AnyArity, rt.eachName(func(m *Module, name string) error {
		m.DefineAttrAccessor(name)
		return nil
	}))

	// Constants
	c.DefN("const_get", Arity{Required: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		res := m.LookupConstant(name)
		if !res.Found {
			return nil, rt.Raise(rt.NameError, "uninitialized constant %s", name)
		}
		return res.Value, nil
	}))
	c.DefN("const_set", Arity{Required: 2}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		if name == "" || name[0] < 'A' || name[0] > 'Z' {
			return nil, rt.Raise(rt.NameError, "wrong constant name %s", name)
		}
		m.SetConstant(name, inv.Args[1])
		return inv.Args[1], nil
	}))
	c.DefN("const_defined?", Arity{Required: 1}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		return m.LookupConstant(name).Found, nil
	}))
	c.DefN("constants", Arity{}, moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		arr := rt.NewArray()
		for _, name := range m.Constants() {
			arr.Push(rt.Symbols.Intern(name))
		}
		return arr, nil
	}))
}

// eachName builds a builtin applying fn to every name argument. It returns
// nil, or the single name when exactly one was given.
func (rt *Runtime) eachName(fn func(m *Module, name string) error) BuiltinFunc {
	return moduleMethod(func(t *Thread, m *Module, inv *Invocation) (Value, error) {
		for _, arg := range inv.Args {
			name, err := rt.nameArg(arg)
			if err != nil {
				return nil, err
			}
			if err := fn(m, name); err != nil {
				return nil, err
			}
		}
		if len(inv.Args) == 1 {
			return inv.Args[0], nil
		}
		return nil, nil
	})
}

func (rt *Runtime) registerClassPrimitives() {
	c := rt.ClassClass

	c.DefN("new", AnyArity, moduleMethod(func(t *Thread, cls *Module, inv *Invocation) (Value, error) {
		obj, err := rt.allocate(cls, inv)
		if err != nil {
			return nil, err
		}
		if _, isObj := obj.(*Object); !isObj {
			return obj, nil
		}
		if _, err := rt.SendSelf(t, obj, "initialize", inv.Block, inv.Args...); err != nil {
			return nil, err
		}
		return obj, nil
	}))
	c.DefN("allocate", Arity{}, moduleMethod(func(t *Thread, cls *Module, inv *Invocation) (Value, error) {
		return rt.allocate(cls, inv)
	}))
	c.DefN("superclass", Arity{}, moduleMethod(func(t *Thread, cls *Module, inv *Invocation) (Value, error) {
		s := cls.Superclass()
		for s != nil && s.IsSingleton() && !cls.IsSingleton() {
			s = s.Superclass()
		}
		if s == nil {
			return nil, nil
		}
		return s, nil
	}))
}

// allocate creates an uninitialized instance of cls. Class and Module
// allocate anonymous classes and modules; value classes cannot be
// instantiated.
func (rt *Runtime) allocate(cls *Module, inv *Invocation) (Value, error) {
	switch {
	case cls.IsSingleton():
		return nil, rt.Raise(rt.TypeError, "can't create instance of singleton class")
	case cls == rt.ClassClass:
		super := rt.ObjectClass
		if len(inv.Args) > 0 {
			s, ok := inv.Args[0].(*Module)
			if !ok || !s.IsClass() || s.IsSingleton() {
				return nil, rt.Raise(rt.TypeError, "superclass must be a Class")
			}
			super = s
		}
		return rt.NewClass(super), nil
	case cls == rt.ModuleClass:
		return rt.NewModule(), nil
	case cls == rt.ArrayClass:
		return rt.NewArray(inv.Args...), nil
	case cls == rt.ProcClass:
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "tried to create Proc object without a block")
		}
		return inv.Block, nil
	}
	for _, value := range []*Module{rt.NilClass, rt.TrueClass, rt.FalseClass, rt.IntegerClass, rt.FloatClass, rt.SymbolClass, rt.StringClass} {
		if cls.IsSubmoduleOf(value) {
			return nil, rt.Raise(rt.TypeError, "allocator undefined for %s", cls.Name())
		}
	}
	return rt.NewObject(cls), nil
}

// NewClass creates an anonymous class. It is named when first bound to a
// constant.
func (rt *Runtime) NewClass(super *Module) *Module {
	c := rt.newModule("", ModuleKindClass, super)
	c.class = rt.ClassClass
	rt.attachMetaclass(c)
	return c
}

// NewModule creates an anonymous module.
func (rt *Runtime) NewModule() *Module {
	m := rt.newModule("", ModuleKindModule, nil)
	m.class = rt.ModuleClass
	rt.attachMetaclass(m)
	return m
}
