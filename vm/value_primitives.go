package vm

import "strings"

// ---------------------------------------------------------------------------
// nil, booleans, String, Symbol, Array and Proc
// ---------------------------------------------------------------------------

func (rt *Runtime) registerValuePrimitives() {
	rt.NilClass.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return "", nil
	})
	rt.NilClass.Def0("to_a", func(t *Thread, self Value) (Value, error) {
		return rt.NewArray(), nil
	})
	for _, c := range []*Module{rt.TrueClass, rt.FalseClass} {
		c.Def1("&", func(t *Thread, self, other Value) (Value, error) {
			return Truthy(self) && Truthy(other), nil
		})
		c.Def1("|", func(t *Thread, self, other Value) (Value, error) {
			return Truthy(self) || Truthy(other), nil
		})
	}

	s := rt.StringClass
	s.Def1("+", func(t *Thread, self, other Value) (Value, error) {
		o, ok := other.(string)
		if !ok {
			return nil, rt.Raise(rt.TypeError, "no implicit conversion of %s into String", rt.ClassOf(other).Name())
		}
		return self.(string) + o, nil
	})
	s.Def1("==", func(t *Thread, self, other Value) (Value, error) {
		o, ok := other.(string)
		return ok && o == self.(string), nil
	})
	s.Def0("size", func(t *Thread, self Value) (Value, error) {
		return int64(len([]rune(self.(string)))), nil
	})
	s.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return self, nil
	})
	s.Def0("to_sym", func(t *Thread, self Value) (Value, error) {
		return rt.Symbols.Intern(self.(string)), nil
	})
	s.Def0("upcase", func(t *Thread, self Value) (Value, error) {
		return strings.ToUpper(self.(string)), nil
	})

	y := rt.SymbolClass
	y.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return self.(*Symbol).Name(), nil
	})
	y.Def0("to_sym", func(t *Thread, self Value) (Value, error) {
		return self, nil
	})

	rt.registerArrayPrimitives()

	p := rt.ProcClass
	p.DefN("call", AnyArity, func(t *Thread, inv *Invocation) (Value, error) {
		return inv.Self.(*Proc).Call(t, inv.Args, inv.Block)
	})
	if err := p.AliasMethod("yield", "call"); err != nil {
		panic(err)
	}
	p.Def0("arity", func(t *Thread, self Value) (Value, error) {
		a := self.(*Proc).Arity()
		if a.Rest || a.Optional > 0 {
			return int64(-a.Required - 1), nil
		}
		return int64(a.Required), nil
	})
}

func (rt *Runtime) registerArrayPrimitives() {
	a := rt.ArrayClass

	a.Def0("size", func(t *Thread, self Value) (Value, error) {
		return int64(self.(*Array).Len()), nil
	})
	if err := a.AliasMethod("length", "size"); err != nil {
		panic(err)
	}
	a.Def1("[]", func(t *Thread, self, idx Value) (Value, error) {
		i, ok := idx.(int64)
		if !ok {
			return nil, rt.Raise(rt.TypeError, "no implicit conversion of %s into Integer", rt.ClassOf(idx).Name())
		}
		return self.(*Array).At(int(i)), nil
	})
	a.Def2("[]=", func(t *Thread, self, idx, v Value) (Value, error) {
		i, ok := idx.(int64)
		if !ok {
			return nil, rt.Raise(rt.TypeError, "no implicit conversion of %s into Integer", rt.ClassOf(idx).Name())
		}
		arr := self.(*Array)
		if i < 0 {
			i += int64(arr.Len())
			if i < 0 {
				return nil, rt.Raise(rt.IndexError, "index %d too small for array", i-int64(arr.Len()))
			}
		}
		for int64(arr.Len()) <= i {
			arr.Push(nil)
		}
		arr.Elements[i] = v
		return v, nil
	})
	a.Def1("<<", func(t *Thread, self, v Value) (Value, error) {
		self.(*Array).Push(v)
		return self, nil
	})
	a.DefN("push", AnyArity, func(t *Thread, inv *Invocation) (Value, error) {
		arr := inv.Self.(*Array)
		for _, v := range inv.Args {
			arr.Push(v)
		}
		return arr, nil
	})
	a.Def0("first", func(t *Thread, self Value) (Value, error) {
		return self.(*Array).At(0), nil
	})
	a.Def0("last", func(t *Thread, self Value) (Value, error) {
		return self.(*Array).At(-1), nil
	})
	a.DefN("each", Arity{}, func(t *Thread, inv *Invocation) (Value, error) {
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "no block given")
		}
		arr := inv.Self.(*Array)
		for i := 0; i < arr.Len(); i++ {
			if _, err := inv.Block.Call(t, []Value{arr.Elements[i]}, nil); err != nil {
				return nil, err
			}
		}
		return arr, nil
	})
	a.DefN("map", Arity{}, func(t *Thread, inv *Invocation) (Value, error) {
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "no block given")
		}
		arr := inv.Self.(*Array)
		out := rt.NewArray()
		for i := 0; i < arr.Len(); i++ {
			v, err := inv.Block.Call(t, []Value{arr.Elements[i]}, nil)
			if err != nil {
				return nil, err
			}
			out.Push(v)
		}
		return out, nil
	})
}
