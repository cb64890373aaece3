package vm

import (
	"errors"
	"sync/atomic"
)

// Node is an evaluable syntax tree node. Hosts build trees directly with
// the node types in this package; there is no parser.
type Node interface {
	Evaluate(f *Frame) (Value, error)
}

// ---------------------------------------------------------------------------
// Method and block bodies
// ---------------------------------------------------------------------------

// MethodBody is a method or block body. Parameters occupy the first local
// slots: required ones, then optional ones (filled from Optional default
// expressions when absent), then the rest array when Rest is set.
type MethodBody struct {
	Required int
	Optional []Node
	Rest     bool
	Locals   int
	Body     Node
}

// Arity returns the argument counts the body accepts as a method.
func (b *MethodBody) Arity() Arity {
	return Arity{Required: b.Required, Optional: len(b.Optional), Rest: b.Rest}
}

func (b *MethodBody) paramSlots() int {
	n := b.Required + len(b.Optional)
	if b.Rest {
		n++
	}
	return n
}

func (b *MethodBody) newLocals() []Value {
	n := b.Locals
	if p := b.paramSlots(); p > n {
		n = p
	}
	return make([]Value, n)
}

// Invoke runs the body as a method. Arity was checked by the caller.
func (b *MethodBody) Invoke(t *Thread, inv *Invocation) (Value, error) {
	return b.invokeMethod(t, inv, inv.Frame)
}

func (b *MethodBody) invokeMethod(t *Thread, inv *Invocation, parent *Frame) (Value, error) {
	var module *Module
	switch {
	case parent != nil:
		module = parent.Module
	case inv.Method != nil:
		module = inv.Method.Owner
	}
	f := &Frame{
		thread:   t,
		Self:     inv.Self,
		Method:   inv.Method,
		Block:    inv.Block,
		Parent:   parent,
		Module:   module,
		locals:   b.newLocals(),
		isMethod: true,
	}
	t.PushFrame(f)
	defer t.PopFrame()

	if err := b.bind(f, inv.Args); err != nil {
		return nil, err
	}
	v, err := b.Body.Evaluate(f)
	if rs, ok := err.(*returnSignal); ok && rs.frame == f {
		return rs.value, nil
	}
	return v, err
}

// bind loads arguments into parameter slots and evaluates defaults for
// missing optional parameters.
func (b *MethodBody) bind(f *Frame, args []Value) error {
	n := len(args)
	for i := 0; i < b.Required && i < n; i++ {
		f.locals[i] = args[i]
	}
	given := n - b.Required
	if given < 0 {
		given = 0
	}
	if given > len(b.Optional) {
		given = len(b.Optional)
	}
	for i, def := range b.Optional {
		slot := b.Required + i
		if i < given {
			f.locals[slot] = args[slot]
			continue
		}
		v, err := def.Evaluate(f)
		if err != nil {
			return err
		}
		f.locals[slot] = v
	}
	if b.Rest {
		var rest []Value
		if start := b.Required + given; start < n {
			rest = append(rest, args[start:]...)
		}
		f.locals[b.Required+len(b.Optional)] = f.Runtime().NewArray(rest...)
	}
	return nil
}

// invokeBlock runs the body as a block: missing arguments read as nil and
// extra ones are dropped. A single array argument is spread across
// multiple parameters.
func (b *MethodBody) invokeBlock(t *Thread, p *Proc, self Value, args []Value, block *Proc) (Value, error) {
	f := &Frame{
		thread: t,
		Self:   self,
		Parent: p.Frame,
		locals: b.newLocals(),
		Block:  block,
	}
	if p.Frame != nil {
		f.Method = p.Frame.Method
		f.Module = p.Frame.Module
		if block == nil {
			f.Block = p.Frame.Block
		}
	} else {
		f.isMethod = true
	}
	if len(args) == 1 && b.Required+len(b.Optional) > 1 {
		if arr, ok := args[0].(*Array); ok {
			args = arr.Elements
		}
	}
	positional := b.Required + len(b.Optional)
	if !b.Rest && len(args) > positional {
		args = args[:positional]
	}
	for len(args) < b.Required {
		args = append(args, nil)
	}

	t.PushFrame(f)
	defer t.PopFrame()
	t.Checkpoint()

	if err := b.bind(f, args); err != nil {
		return nil, err
	}
	v, err := b.Body.Evaluate(f)
	if rs, ok := err.(*returnSignal); ok && rs.frame == f {
		return rs.value, nil
	}
	return v, err
}

// ---------------------------------------------------------------------------
// Leaves
// ---------------------------------------------------------------------------

// Literal evaluates to a constant value.
type Literal struct {
	Value Value
}

func (n *Literal) Evaluate(f *Frame) (Value, error) { return n.Value, nil }

// SelfNode evaluates to the frame's self.
type SelfNode struct{}

func (n *SelfNode) Evaluate(f *Frame) (Value, error) { return f.Self, nil }

// LocalRead reads a local Depth lexical levels out.
type LocalRead struct {
	Depth int
	Index int
}

func (n *LocalRead) Evaluate(f *Frame) (Value, error) {
	return f.Up(n.Depth).locals[n.Index], nil
}

// LocalWrite stores into a local Depth lexical levels out.
type LocalWrite struct {
	Depth int
	Index int
	Value Node
}

func (n *LocalWrite) Evaluate(f *Frame) (Value, error) {
	v, err := n.Value.Evaluate(f)
	if err != nil {
		return nil, err
	}
	f.Up(n.Depth).locals[n.Index] = v
	return v, nil
}

// GlobalRead reads a global variable; unset globals read as nil.
type GlobalRead struct {
	Name string
}

func (n *GlobalRead) Evaluate(f *Frame) (Value, error) {
	v, _ := f.Runtime().Global(n.Name)
	return v, nil
}

// GlobalWrite assigns a global variable.
type GlobalWrite struct {
	Name  string
	Value Node
}

func (n *GlobalWrite) Evaluate(f *Frame) (Value, error) {
	v, err := n.Value.Evaluate(f)
	if err != nil {
		return nil, err
	}
	f.Runtime().SetGlobal(n.Name, v)
	return v, nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Sequence evaluates its nodes in order and yields the last value.
type Sequence struct {
	Nodes []Node
}

func (n *Sequence) Evaluate(f *Frame) (Value, error) {
	var last Value
	for _, node := range n.Nodes {
		v, err := node.Evaluate(f)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// If evaluates Then or Else depending on Cond. A nil branch yields nil.
type If struct {
	Cond Node
	Then Node
	Else Node
}

func (n *If) Evaluate(f *Frame) (Value, error) {
	c, err := n.Cond.Evaluate(f)
	if err != nil {
		return nil, err
	}
	branch := n.Else
	if Truthy(c) {
		branch = n.Then
	}
	if branch == nil {
		return nil, nil
	}
	return branch.Evaluate(f)
}

// While loops while Cond is truthy. Every back-edge is a checkpoint.
type While struct {
	Cond Node
	Body Node

	counter atomic.Pointer[LoopCounter]
}

func (n *While) Evaluate(f *Frame) (Value, error) {
	t := f.thread
	lc := f.Runtime().loopCounter(&n.counter, LoopWhile)
	if lc != nil {
		lc.entries.Add(1)
	}
	for {
		c, err := n.Cond.Evaluate(f)
		if err != nil {
			return nil, err
		}
		if !Truthy(c) {
			return nil, nil
		}
		if _, err := n.Body.Evaluate(f); err != nil {
			return nil, err
		}
		if lc != nil {
			lc.iterations.Add(1)
		}
		t.Checkpoint()
	}
}

// And short-circuits on a falsy left operand.
type And struct {
	Left, Right Node
}

func (n *And) Evaluate(f *Frame) (Value, error) {
	l, err := n.Left.Evaluate(f)
	if err != nil || !Truthy(l) {
		return l, err
	}
	return n.Right.Evaluate(f)
}

// Or short-circuits on a truthy left operand.
type Or struct {
	Left, Right Node
}

func (n *Or) Evaluate(f *Frame) (Value, error) {
	l, err := n.Left.Evaluate(f)
	if err != nil || Truthy(l) {
		return l, err
	}
	return n.Right.Evaluate(f)
}

// Not negates truthiness.
type Not struct {
	Operand Node
}

func (n *Not) Evaluate(f *Frame) (Value, error) {
	v, err := n.Operand.Evaluate(f)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

// Return leaves the enclosing method, even from inside a block.
type Return struct {
	Value Node
}

func (n *Return) Evaluate(f *Frame) (Value, error) {
	var v Value
	if n.Value != nil {
		var err error
		if v, err = n.Value.Evaluate(f); err != nil {
			return nil, err
		}
	}
	return nil, &returnSignal{frame: f.Home(), value: v}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// ArrayLiteral builds a new array from its element expressions.
type ArrayLiteral struct {
	Elements []Node
}

func (n *ArrayLiteral) Evaluate(f *Frame) (Value, error) {
	elems := make([]Value, len(n.Elements))
	for i, e := range n.Elements {
		v, err := e.Evaluate(f)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return f.Runtime().NewArray(elems...), nil
}

// BlockLiteral creates a proc closing over the current frame.
type BlockLiteral struct {
	Body *MethodBody
}

func (n *BlockLiteral) Evaluate(f *Frame) (Value, error) {
	return f.Runtime().NewProc(f.Self, f, n.Body), nil
}

// Yield calls the block passed to the enclosing method.
type Yield struct {
	Args []Node

	counter atomic.Pointer[LoopCounter]
}

func (n *Yield) Evaluate(f *Frame) (Value, error) {
	rt := f.Runtime()
	if f.Block == nil {
		return nil, rt.Raise(rt.ArgumentError, "no block given (yield)")
	}
	args, err := evaluateAll(f, n.Args)
	if err != nil {
		return nil, err
	}
	if lc := rt.loopCounter(&n.counter, LoopYield); lc != nil {
		lc.iterations.Add(1)
	}
	return f.Block.Call(f.thread, args, nil)
}

// MethodDef defines a method on the frame's lexical module.
type MethodDef struct {
	Name       string
	Body       *MethodBody
	Visibility Visibility
}

func (n *MethodDef) Evaluate(f *Frame) (Value, error) {
	f.definee().Def(n.Name, n.Body, n.Visibility)
	return f.Runtime().Symbols.Intern(n.Name), nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Rescue runs Body and hands language errors whose class matches one of
// Classes (StandardError when empty) to Handler. The exception is stored
// in local Var unless Var is negative.
type Rescue struct {
	Body    Node
	Classes []Node
	Var     int
	Handler Node
}

func (n *Rescue) Evaluate(f *Frame) (Value, error) {
	v, err := n.Body.Evaluate(f)
	if err == nil {
		return v, nil
	}
	var raised *RaisedError
	if !errors.As(err, &raised) {
		return nil, err
	}
	matched, cerr := n.matches(f, raised)
	if cerr != nil {
		return nil, cerr
	}
	if !matched {
		return nil, err
	}
	if n.Var >= 0 {
		f.locals[n.Var] = raised.Exception
	}
	if n.Handler == nil {
		return nil, nil
	}
	return n.Handler.Evaluate(f)
}

func (n *Rescue) matches(f *Frame, raised *RaisedError) (bool, error) {
	rt := f.Runtime()
	if len(n.Classes) == 0 {
		return raised.Class().IsSubmoduleOf(rt.StandardError), nil
	}
	for _, c := range n.Classes {
		v, err := c.Evaluate(f)
		if err != nil {
			return false, err
		}
		mod, ok := v.(*Module)
		if !ok {
			return false, rt.Raise(rt.TypeError, "class or module required for rescue clause")
		}
		if raised.Class().IsSubmoduleOf(mod) {
			return true, nil
		}
	}
	return false, nil
}

// Raise raises an exception. Class evaluates to an exception class (default
// RuntimeError) or an exception object; Message is optional.
type Raise struct {
	Class   Node
	Message Node
}

func (n *Raise) Evaluate(f *Frame) (Value, error) {
	var class, msg Value
	if n.Class != nil {
		v, err := n.Class.Evaluate(f)
		if err != nil {
			return nil, err
		}
		class = v
	}
	if n.Message != nil {
		v, err := n.Message.Evaluate(f)
		if err != nil {
			return nil, err
		}
		msg = v
	}
	return nil, f.Runtime().exceptionFrom(class, msg, n.Message != nil)
}

// ---------------------------------------------------------------------------
// defined?
// ---------------------------------------------------------------------------

// Defined evaluates to a description of what Expr refers to, or nil when it
// is not defined. Expr is never evaluated for effect except for a call's
// receiver.
type Defined struct {
	Expr Node
}

func (n *Defined) Evaluate(f *Frame) (Value, error) {
	if s := definedString(f, n.Expr); s != "" {
		return s, nil
	}
	return nil, nil
}

func definedString(f *Frame, node Node) string {
	rt := f.Runtime()
	switch x := node.(type) {
	case *CallNode:
		return x.IsDefined(f)
	case *FieldRead:
		obj := fieldHolder(f.Self)
		if x.Receiver != nil {
			v, err := x.Receiver.Evaluate(f)
			if err != nil {
				return ""
			}
			obj = fieldHolder(v)
		}
		if obj == nil {
			return ""
		}
		if _, ok := rt.ReadField(obj, x.Name); ok {
			return "instance-variable"
		}
		return ""
	case *ConstRead:
		scope, err := x.scope(f)
		if err != nil {
			return ""
		}
		if scope.LookupConstant(x.Name).Found {
			return "constant"
		}
		return ""
	case *GlobalRead:
		if _, ok := rt.Global(x.Name); ok {
			return "global-variable"
		}
		return ""
	case *LocalRead:
		return "local-variable"
	case *SelfNode:
		return "self"
	case *Literal:
		switch x.Value.(type) {
		case nil:
			return "nil"
		case bool:
			if x.Value.(bool) {
				return "true"
			}
			return "false"
		}
		return "expression"
	case *Yield:
		if f.Block != nil {
			return "yield"
		}
		return ""
	case *LocalWrite, *FieldWrite, *GlobalWrite:
		return "assignment"
	case *Defined, *And, *Or, *Not, *ArrayLiteral, *BlockLiteral, *Sequence,
		*If, *While, *Rescue, *Raise, *Return, *MethodDef:
		return "expression"
	default:
		return "expression"
	}
}

func evaluateAll(f *Frame, nodes []Node) ([]Value, error) {
	out := make([]Value, len(nodes))
	for i, n := range nodes {
		v, err := n.Evaluate(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
