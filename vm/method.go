package vm

import (
	"fmt"
	"strconv"
)

// Visibility controls which call sites may invoke a method.
type Visibility uint8

const (
	Public Visibility = iota
	Private
	Protected
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	default:
		return "public"
	}
}

// Arity describes the argument counts a method accepts.
type Arity struct {
	Required int
	Optional int
	Rest     bool
}

// Accepts reports whether n arguments satisfy the arity.
func (a Arity) Accepts(n int) bool {
	if n < a.Required {
		return false
	}
	return a.Rest || n <= a.Required+a.Optional
}

func (a Arity) String() string {
	switch {
	case a.Rest:
		return strconv.Itoa(a.Required) + "+"
	case a.Optional > 0:
		return fmt.Sprintf("%d..%d", a.Required, a.Required+a.Optional)
	default:
		return strconv.Itoa(a.Required)
	}
}

// AnyArity accepts any number of arguments.
var AnyArity = Arity{Rest: true}

// Invocation is everything a Callable receives for one call.
type Invocation struct {
	Method *MethodEntry
	Self   Value
	Args   []Value
	Block  *Proc

	// Frame is the declaration frame of an indirect method, nil otherwise.
	Frame *Frame
}

// Arg returns argument i, or nil when fewer arguments were passed.
func (inv *Invocation) Arg(i int) Value {
	if i < len(inv.Args) {
		return inv.Args[i]
	}
	return nil
}

// Callable is the body of a method.
type Callable interface {
	Invoke(t *Thread, inv *Invocation) (Value, error)
}

// ---------------------------------------------------------------------------
// MethodEntry
// ---------------------------------------------------------------------------

// MethodEntry is one published method table entry. Entries are immutable;
// changing visibility or body installs a new entry.
type MethodEntry struct {
	Name       string
	Owner      *Module
	Visibility Visibility
	Body       Callable
	Arity      Arity

	// DeclarationFrame is set for methods defined from a closure. Such
	// entries are invoked indirectly, with the frame passed on each call.
	DeclarationFrame *Frame

	// Undefined marks an undef_method entry. It stops lookup and reads as
	// "no such method".
	Undefined bool

	// fallback marks the root method_missing and respond_to_missing?, which
	// dispatch treats as absent.
	fallback bool
}

// WithVisibility returns a copy of the entry with a different visibility.
func (m *MethodEntry) WithVisibility(v Visibility) *MethodEntry {
	cp := *m
	cp.Visibility = v
	return &cp
}

// withOwner returns a copy owned by another module, under a new name.
func (m *MethodEntry) withOwner(owner *Module, name string) *MethodEntry {
	cp := *m
	cp.Owner = owner
	cp.Name = name
	return &cp
}

// IsIndirect reports whether the entry captured a declaration frame.
func (m *MethodEntry) IsIndirect() bool { return m.DeclarationFrame != nil }

// Call checks arity and invokes the body. It is a safepoint checkpoint.
func (m *MethodEntry) Call(t *Thread, self Value, block *Proc, args []Value) (Value, error) {
	t.Checkpoint()
	if !m.Arity.Accepts(len(args)) {
		return nil, t.rt.Raise(t.rt.ArgumentError, "wrong number of arguments (given %d, expected %s)", len(args), m.Arity)
	}
	return m.Body.Invoke(t, &Invocation{
		Method: m,
		Self:   self,
		Args:   args,
		Block:  block,
		Frame:  m.DeclarationFrame,
	})
}

func (m *MethodEntry) String() string {
	if m.Owner == nil {
		return m.Name
	}
	return m.Owner.Name() + "#" + m.Name
}

// ---------------------------------------------------------------------------
// Arity-specialized builtin bodies
// ---------------------------------------------------------------------------

// BuiltinFunc is a Go function implementing a method body.
type BuiltinFunc func(t *Thread, inv *Invocation) (Value, error)

func (f BuiltinFunc) Invoke(t *Thread, inv *Invocation) (Value, error) { return f(t, inv) }

// Method0Func is a builtin taking no arguments.
type Method0Func func(t *Thread, self Value) (Value, error)

func (f Method0Func) Invoke(t *Thread, inv *Invocation) (Value, error) {
	return f(t, inv.Self)
}

// Method1Func is a builtin taking one argument.
type Method1Func func(t *Thread, self, arg Value) (Value, error)

func (f Method1Func) Invoke(t *Thread, inv *Invocation) (Value, error) {
	return f(t, inv.Self, inv.Args[0])
}

// Method2Func is a builtin taking two arguments.
type Method2Func func(t *Thread, self, arg1, arg2 Value) (Value, error)

func (f Method2Func) Invoke(t *Thread, inv *Invocation) (Value, error) {
	return f(t, inv.Self, inv.Args[0], inv.Args[1])
}

// Def0 defines a public zero-argument builtin.
func (m *Module) Def0(name string, fn Method0Func) *MethodEntry {
	return m.DefineMethod(&MethodEntry{Name: name, Body: fn, Arity: Arity{}})
}

// Def1 defines a public one-argument builtin.
func (m *Module) Def1(name string, fn Method1Func) *MethodEntry {
	return m.DefineMethod(&MethodEntry{Name: name, Body: fn, Arity: Arity{Required: 1}})
}

// Def2 defines a public two-argument builtin.
func (m *Module) Def2(name string, fn Method2Func) *MethodEntry {
	return m.DefineMethod(&MethodEntry{Name: name, Body: fn, Arity: Arity{Required: 2}})
}

// DefN defines a public builtin with an explicit arity.
func (m *Module) DefN(name string, arity Arity, fn BuiltinFunc) *MethodEntry {
	return m.DefineMethod(&MethodEntry{Name: name, Body: fn, Arity: arity})
}

// Def defines a method from a Callable. Bodies that know their own arity
// (MethodBody) supply it; other bodies accept any argument count.
func (m *Module) Def(name string, body Callable, vis Visibility) *MethodEntry {
	arity := AnyArity
	if a, ok := body.(interface{ Arity() Arity }); ok {
		arity = a.Arity()
	}
	return m.DefineMethod(&MethodEntry{Name: name, Body: body, Arity: arity, Visibility: vis})
}
