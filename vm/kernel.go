package vm

// ---------------------------------------------------------------------------
// BasicObject and Kernel primitives
// ---------------------------------------------------------------------------

func (rt *Runtime) registerKernel() {
	rt.registerBasicObjectPrimitives()
	rt.registerKernelPrimitives()
	rt.registerModulePrimitives()
	rt.registerClassPrimitives()
	rt.registerExceptionPrimitives()
	rt.registerNumericPrimitives()
	rt.registerValuePrimitives()
	rt.registerObjectSpacePrimitives()
}

func (rt *Runtime) registerBasicObjectPrimitives() {
	c := rt.BasicObjectClass

	c.DefineMethod(&MethodEntry{
		Name:       "initialize",
		Visibility: Private,
		Arity:      AnyArity,
		Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
			return nil, nil
		}),
	})

	// The root hooks. Dispatch treats them as absent, so a class only pays
	// for method_missing when it defines its own.
	c.DefineMethod(&MethodEntry{
		Name:       "method_missing",
		Visibility: Private,
		Arity:      Arity{Required: 1, Rest: true},
		fallback:   true,
		Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
			name, err := rt.nameArg(inv.Args[0])
			if err != nil {
				return nil, err
			}
			return nil, rt.noMethodError(inv.Self, "undefined method '%s' for %s", name, Inspect(inv.Self))
		}),
	})
	c.DefineMethod(&MethodEntry{
		Name:       "respond_to_missing?",
		Visibility: Private,
		Arity:      Arity{Required: 2},
		fallback:   true,
		Body: Method2Func(func(t *Thread, self, name, includeAll Value) (Value, error) {
			return false, nil
		}),
	})

	c.Def1("==", func(t *Thread, self, other Value) (Value, error) {
		return Identical(self, other), nil
	})
	c.Def1("equal?", func(t *Thread, self, other Value) (Value, error) {
		return Identical(self, other), nil
	})
	c.Def0("!", func(t *Thread, self Value) (Value, error) {
		return !Truthy(self), nil
	})
	c.DefN("__send__", Arity{Required: 1, Rest: true}, rt.sendPrimitive)
	c.DefN("instance_eval", AnyArity, func(t *Thread, inv *Invocation) (Value, error) {
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "no block given")
		}
		return inv.Block.CallWithSelf(t, inv.Self, []Value{inv.Self}, nil)
	})
}

// sendPrimitive implements send and __send__: the call is made as if from
// inside the receiver, so private methods are reachable.
func (rt *Runtime) sendPrimitive(t *Thread, inv *Invocation) (Value, error) {
	name, err := rt.nameArg(inv.Args[0])
	if err != nil {
		return nil, err
	}
	return rt.SendSelf(t, inv.Self, name, inv.Block, inv.Args[1:]...)
}

func (rt *Runtime) registerKernelPrimitives() {
	k := rt.KernelModule

	k.Def0("class", func(t *Thread, self Value) (Value, error) {
		return rt.RealClassOf(self), nil
	})
	k.Def0("singleton_class", func(t *Thread, self Value) (Value, error) {
		return rt.SingletonClassOf(self)
	})
	k.Def0("object_id", func(t *Thread, self Value) (Value, error) {
		return rt.ObjectIDOf(self), nil
	})
	k.Def0("nil?", func(t *Thread, self Value) (Value, error) {
		return self == nil, nil
	})
	k.Def1("is_a?", rt.isAPrimitive)
	k.Def1("kind_of?", rt.isAPrimitive)
	k.Def1("instance_of?", func(t *Thread, self, arg Value) (Value, error) {
		mod, err := rt.moduleArg(arg)
		if err != nil {
			return nil, err
		}
		return rt.RealClassOf(self) == mod, nil
	})
	k.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return Inspect(self), nil
	})
	k.Def0("inspect", func(t *Thread, self Value) (Value, error) {
		return Inspect(self), nil
	})
	k.DefN("send", Arity{Required: 1, Rest: true}, rt.sendPrimitive)
	k.DefN("public_send", Arity{Required: 1, Rest: true}, func(t *Thread, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		return rt.dispatchGeneric(t, inv.Self, name, inv.Block, inv.Args[1:], ActionCall, false)
	})
	k.DefN("respond_to?", Arity{Required: 1, Optional: 1}, func(t *Thread, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		return rt.dispatchGeneric(t, inv.Self, name, nil, nil, ActionRespondTo, Truthy(inv.Arg(1)))
	})

	// Instance variables
	k.Def1("instance_variable_get", func(t *Thread, self, arg Value) (Value, error) {
		name, err := rt.fieldNameArg(arg)
		if err != nil {
			return nil, err
		}
		obj := fieldHolder(self)
		if obj == nil {
			return nil, nil
		}
		v, _ := rt.ReadField(obj, name)
		return v, nil
	})
	k.Def2("instance_variable_set", func(t *Thread, self, arg, v Value) (Value, error) {
		name, err := rt.fieldNameArg(arg)
		if err != nil {
			return nil, err
		}
		obj := fieldHolder(self)
		if obj == nil {
			return nil, rt.Raise(rt.RuntimeError, "can't modify frozen %s", rt.ClassOf(self).Name())
		}
		rt.WriteField(obj, name, v)
		return v, nil
	})
	k.Def1("instance_variable_defined?", func(t *Thread, self, arg Value) (Value, error) {
		name, err := rt.fieldNameArg(arg)
		if err != nil {
			return nil, err
		}
		obj := fieldHolder(self)
		if obj == nil {
			return false, nil
		}
		_, ok := rt.ReadField(obj, name)
		return ok, nil
	})
	k.Def0("instance_variables", func(t *Thread, self Value) (Value, error) {
		arr := rt.NewArray()
		if obj := fieldHolder(self); obj != nil {
			rt.currentShape(obj)
			for _, name := range obj.FieldNames() {
				if name[0] == '@' {
					arr.Push(rt.Symbols.Intern(name))
				}
			}
		}
		return arr, nil
	})
	k.Def1("remove_instance_variable", func(t *Thread, self, arg Value) (Value, error) {
		name, err := rt.fieldNameArg(arg)
		if err != nil {
			return nil, err
		}
		obj := fieldHolder(self)
		if obj == nil {
			return nil, rt.Raise(rt.NameError, "instance variable %s not defined", name)
		}
		v, ok := rt.RemoveField(obj, name)
		if !ok {
			return nil, rt.Raise(rt.NameError, "instance variable %s not defined", name)
		}
		return v, nil
	})

	// Singleton methods
	k.DefN("define_singleton_method", Arity{Required: 1}, func(t *Thread, inv *Invocation) (Value, error) {
		name, err := rt.nameArg(inv.Args[0])
		if err != nil {
			return nil, err
		}
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "tried to create Proc object without a block")
		}
		s, err := rt.SingletonClassOf(inv.Self)
		if err != nil {
			return nil, err
		}
		s.DefineMethodFromProc(name, inv.Block)
		return rt.Symbols.Intern(name), nil
	})

	// Control
	k.DefineMethod(&MethodEntry{
		Name:       "raise",
		Visibility: Private,
		Arity:      Arity{Optional: 2},
		Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
			return nil, rt.exceptionFrom(inv.Arg(0), inv.Arg(1), len(inv.Args) > 1)
		}),
	})
	for _, name := range []string{"proc", "lambda"} {
		k.DefineMethod(&MethodEntry{
			Name:       name,
			Visibility: Private,
			Arity:      Arity{},
			Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
				if inv.Block == nil {
					return nil, rt.Raise(rt.ArgumentError, "tried to create Proc object without a block")
				}
				return inv.Block, nil
			}),
		})
	}
	k.DefineMethod(&MethodEntry{
		Name:       "block_given?",
		Visibility: Private,
		Arity:      Arity{},
		Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
			f := t.CurrentFrame()
			if f == nil {
				return false, nil
			}
			return f.Home().Block != nil, nil
		}),
	})
}

func (rt *Runtime) isAPrimitive(t *Thread, self, arg Value) (Value, error) {
	mod, err := rt.moduleArg(arg)
	if err != nil {
		return nil, err
	}
	return rt.IsKindOf(self, mod), nil
}

// ---------------------------------------------------------------------------
// Exception
// ---------------------------------------------------------------------------

func (rt *Runtime) registerExceptionPrimitives() {
	c := rt.ExceptionClass

	c.DefineMethod(&MethodEntry{
		Name:       "initialize",
		Visibility: Private,
		Arity:      Arity{Optional: 1},
		Body: BuiltinFunc(func(t *Thread, inv *Invocation) (Value, error) {
			obj := fieldHolder(inv.Self)
			if obj == nil {
				return nil, nil
			}
			var msg Value = rt.RealClassOf(inv.Self).Name()
			if len(inv.Args) > 0 && inv.Args[0] != nil {
				msg = inv.Args[0]
			}
			rt.WriteField(obj, messageField, msg)
			return nil, nil
		}),
	})
	c.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		obj := fieldHolder(self)
		if obj == nil {
			return Inspect(self), nil
		}
		v, _ := rt.ReadField(obj, messageField)
		if s, ok := v.(string); ok {
			return s, nil
		}
		return rt.RealClassOf(self).Name(), nil
	})

	rt.NameError.DefineAttrReader("receiver")
}

// ---------------------------------------------------------------------------
// Argument coercion
// ---------------------------------------------------------------------------

// nameArg accepts a symbol or string naming a method or constant.
func (rt *Runtime) nameArg(v Value) (string, error) {
	switch x := v.(type) {
	case *Symbol:
		return x.Name(), nil
	case string:
		return x, nil
	default:
		return "", rt.Raise(rt.TypeError, "%s is not a symbol nor a string", Inspect(v))
	}
}

// fieldNameArg accepts an instance-variable name, which must start with @.
func (rt *Runtime) fieldNameArg(v Value) (string, error) {
	name, err := rt.nameArg(v)
	if err != nil {
		return "", err
	}
	if len(name) < 2 || name[0] != '@' {
		return "", rt.Raise(rt.NameError, "'%s' is not allowed as an instance variable name", name)
	}
	return name, nil
}

func (rt *Runtime) moduleArg(v Value) (*Module, error) {
	mod, ok := v.(*Module)
	if !ok {
		return nil, rt.Raise(rt.TypeError, "class or module required")
	}
	return mod, nil
}

// ObjectIDOf returns the identity of v. Heap objects use their allocation
// id; unboxed values derive one from their payload. Fixnum ids are odd and
// symbol ids negative, so they never meet a heap id.
func (rt *Runtime) ObjectIDOf(v Value) int64 {
	switch x := v.(type) {
	case HeapObject:
		return x.ObjectID()
	case nil:
		return 8
	case bool:
		if x {
			return 20
		}
		return 0
	case int64:
		return 2*x + 1
	case *Symbol:
		return -int64(x.ID()) - 1
	default:
		return 4
	}
}
