package vm

// Action selects what a dispatch does with the resolved method.
type Action uint8

const (
	ActionCall         Action = iota // invoke the method
	ActionRespondTo                  // report whether the method is callable
	ActionReadConstant               // read a constant from a module receiver
)

func (a Action) String() string {
	switch a {
	case ActionRespondTo:
		return "respond_to"
	case ActionReadConstant:
		return "read_constant"
	default:
		return "call"
	}
}

// resolveEntry performs the full lookup for receiver and builds an entry
// guarded on the receiver's representation.
func (rt *Runtime) resolveEntry(receiver Value, name string, action Action) (*cacheEntry, error) {
	e := &cacheEntry{action: action}
	cat := CategoryOf(receiver)
	switch x := receiver.(type) {
	case *Object:
		e.guard = guardShape
		e.shape = rt.currentShape(x)
		e.class = x.dispatchClass()
	default:
		if cat.Unboxed() {
			e.guard = guardCategory
			e.category = cat
		} else {
			e.guard = guardClass
		}
		e.class = rt.ClassOf(receiver)
	}

	if action == ActionReadConstant {
		mod, ok := receiver.(*Module)
		if !ok {
			return nil, rt.Raise(rt.TypeError, "%s is not a class/module", Inspect(receiver))
		}
		e.guard = guardModule
		e.class = mod
		res := mod.LookupConstant(name)
		e.constant = res.Value
		e.found = res.Found
		e.assumptions = res.Assumptions
		return e, nil
	}

	res := e.class.LookupMethod(name)
	e.assumptions = res.Assumptions
	if e.guard == guardShape {
		// A generalized shape retires its entries with it.
		e.assumptions = append([]*Assumption{e.shape.Assumption()}, res.Assumptions...)
	}
	if res.Found() {
		e.method = res.Method
		e.found = true
		return e, nil
	}

	mm := e.class.LookupMethod("method_missing")
	e.assumptions = append(e.assumptions, mm.Assumptions...)
	if mm.Found() && !mm.Method.fallback {
		e.missing = mm.Method
	}
	if action == ActionRespondTo {
		rtm := e.class.LookupMethod("respond_to_missing?")
		e.assumptions = append(e.assumptions, rtm.Assumptions...)
		if rtm.Found() && !rtm.Method.fallback {
			e.respondToMissing = rtm.Method
		}
	}
	return e, nil
}

// executeEntry carries out an entry's action.
func (rt *Runtime) executeEntry(t *Thread, e *cacheEntry, name string, selfCall bool, receiver Value, block *Proc, args []Value) (Value, error) {
	switch e.action {
	case ActionReadConstant:
		if !e.found {
			return nil, rt.Raise(rt.NameError, "uninitialized constant %s", name)
		}
		return e.constant, nil

	case ActionRespondTo:
		if e.method != nil {
			return rt.visible(t, e.method, selfCall), nil
		}
		if e.respondToMissing == nil {
			return false, nil
		}
		v, err := e.respondToMissing.Call(t, receiver, nil, []Value{rt.Symbols.Intern(name), selfCall})
		if err != nil {
			return nil, err
		}
		return Truthy(v), nil

	default:
		if e.method == nil {
			return rt.callMissing(t, e.missing, receiver, name, block, args)
		}
		if err := rt.checkVisibility(t, e.method, receiver, selfCall); err != nil {
			return nil, err
		}
		return e.method.Call(t, receiver, block, args)
	}
}

// dispatchGeneric resolves and executes without caching. Megamorphic sites
// and host calls use it.
func (rt *Runtime) dispatchGeneric(t *Thread, receiver Value, name string, block *Proc, args []Value, action Action, selfCall bool) (Value, error) {
	e, err := rt.resolveEntry(receiver, name, action)
	if err != nil {
		return nil, err
	}
	return rt.executeEntry(t, e, name, selfCall, receiver, block, args)
}

// Dispatch performs action on receiver without a call-site cache, as an
// explicit-receiver call.
func (rt *Runtime) Dispatch(t *Thread, receiver Value, name string, block *Proc, args []Value, action Action) (Value, error) {
	return rt.dispatchGeneric(t, receiver, name, block, args, action, false)
}

// Send calls a public method on receiver.
func (rt *Runtime) Send(t *Thread, receiver Value, name string, args ...Value) (Value, error) {
	return rt.dispatchGeneric(t, receiver, name, nil, args, ActionCall, false)
}

// SendSelf calls name as if from inside receiver, so private methods are
// reachable.
func (rt *Runtime) SendSelf(t *Thread, receiver Value, name string, block *Proc, args ...Value) (Value, error) {
	return rt.dispatchGeneric(t, receiver, name, block, args, ActionCall, true)
}

// RespondTo reports whether receiver has a public method name.
func (rt *Runtime) RespondTo(t *Thread, receiver Value, name string) (bool, error) {
	v, err := rt.dispatchGeneric(t, receiver, name, nil, nil, ActionRespondTo, false)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// visible reports whether m may be called from this site. Private methods
// need an implicit receiver; protected ones need the caller's self to be
// a kind of the method's owner.
func (rt *Runtime) visible(t *Thread, m *MethodEntry, selfCall bool) bool {
	switch m.Visibility {
	case Private:
		return selfCall
	case Protected:
		return selfCall || rt.IsKindOf(t.Self(), m.Owner)
	default:
		return true
	}
}

func (rt *Runtime) checkVisibility(t *Thread, m *MethodEntry, receiver Value, selfCall bool) error {
	if rt.visible(t, m, selfCall) {
		return nil
	}
	return rt.noMethodError(receiver, "%s method '%s' called for %s", m.Visibility, m.Name, Inspect(receiver))
}

// callMissing handles a call to a method that does not exist.
func (rt *Runtime) callMissing(t *Thread, hook *MethodEntry, receiver Value, name string, block *Proc, args []Value) (Value, error) {
	if hook == nil {
		return nil, rt.noMethodError(receiver, "undefined method '%s' for %s", name, Inspect(receiver))
	}
	full := make([]Value, 0, len(args)+1)
	full = append(full, rt.Symbols.Intern(name))
	full = append(full, args...)
	return hook.Call(t, receiver, block, full)
}

func (rt *Runtime) noMethodError(receiver Value, format string, args ...any) error {
	err := rt.Raise(rt.NoMethodError, format, args...)
	rt.WriteField(err.Exception, "@receiver", receiver)
	return err
}
