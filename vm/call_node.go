package vm

import "sync/atomic"

// CallNode is a method call site. A nil Receiver is an implicit-self call;
// it and an explicit self receiver may reach private methods.
type CallNode struct {
	Receiver Node
	Name     string
	Args     []Node
	Block    Node // evaluates to a *Proc or nil
	Splat    bool // spread the last argument, which must be an Array

	chain atomic.Pointer[CacheChain]
}

// NewCall builds a call of name on receiver (nil for self).
func NewCall(receiver Node, name string, args ...Node) *CallNode {
	return &CallNode{Receiver: receiver, Name: name, Args: args}
}

// WithBlock attaches a block expression.
func (c *CallNode) WithBlock(block Node) *CallNode {
	c.Block = block
	return c
}

// WithSplat marks the last argument for spreading.
func (c *CallNode) WithSplat() *CallNode {
	c.Splat = true
	return c
}

// SelfCall reports whether the call is made on self, implicitly or through
// a SelfNode receiver.
func (c *CallNode) SelfCall() bool {
	if c.Receiver == nil {
		return true
	}
	_, ok := c.Receiver.(*SelfNode)
	return ok
}

// Chain returns the site's inline cache, creating it on first use.
func (c *CallNode) Chain(rt *Runtime) *CacheChain {
	if ch := c.chain.Load(); ch != nil {
		return ch
	}
	ch := rt.NewCacheChain(c.Name, c.SelfCall())
	if !c.chain.CompareAndSwap(nil, ch) {
		return c.chain.Load()
	}
	return ch
}

// Evaluate evaluates the receiver, then the arguments left to right, then
// the block, and dispatches through the site's cache.
func (c *CallNode) Evaluate(f *Frame) (Value, error) {
	rt := f.Runtime()

	receiver := f.Self
	if c.Receiver != nil {
		v, err := c.Receiver.Evaluate(f)
		if err != nil {
			return nil, err
		}
		receiver = v
	}

	args, err := evaluateAll(f, c.Args)
	if err != nil {
		return nil, err
	}
	if c.Splat {
		if args, err = c.spread(rt, args); err != nil {
			return nil, err
		}
	}

	var block *Proc
	if c.Block != nil {
		v, err := c.Block.Evaluate(f)
		if err != nil {
			return nil, err
		}
		switch b := v.(type) {
		case nil:
		case *Proc:
			block = b
		default:
			return nil, rt.Raise(rt.TypeError, "wrong argument type %s (expected Proc)", rt.ClassOf(v).Name())
		}
	}

	return c.Chain(rt).Dispatch(f.thread, receiver, block, args, ActionCall)
}

func (c *CallNode) spread(rt *Runtime, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return args, nil
	}
	last := args[len(args)-1]
	arr, ok := last.(*Array)
	if !ok {
		return nil, rt.Raise(rt.TypeError, "can't splat %s (expected Array)", rt.ClassOf(last).Name())
	}
	out := make([]Value, 0, len(args)-1+arr.Len())
	out = append(out, args[:len(args)-1]...)
	return append(out, arr.Elements...), nil
}

// IsDefined reports "method" when the call would find a callable method,
// "" otherwise. The lookup does not touch the site's cache, and a failing
// receiver just means "not defined".
func (c *CallNode) IsDefined(f *Frame) string {
	rt := f.Runtime()
	receiver := f.Self
	if c.Receiver != nil {
		if definedString(f, c.Receiver) == "" {
			return ""
		}
		v, err := c.Receiver.Evaluate(f)
		if err != nil {
			return ""
		}
		receiver = v
	}
	for _, a := range c.Args {
		if definedString(f, a) == "" {
			return ""
		}
	}
	v, err := rt.dispatchGeneric(f.thread, receiver, c.Name, nil, nil, ActionRespondTo, c.SelfCall())
	if err != nil || !Truthy(v) {
		return ""
	}
	return "method"
}

// ConstRead reads a constant. Scope evaluates to the module to search; nil
// means the frame's lexical module.
type ConstRead struct {
	Scope Node
	Name  string

	chain atomic.Pointer[CacheChain]
}

// NewConstRead builds a constant reference.
func NewConstRead(scope Node, name string) *ConstRead {
	return &ConstRead{Scope: scope, Name: name}
}

func (n *ConstRead) scope(f *Frame) (*Module, error) {
	rt := f.Runtime()
	if n.Scope == nil {
		return f.definee(), nil
	}
	v, err := n.Scope.Evaluate(f)
	if err != nil {
		return nil, err
	}
	mod, ok := v.(*Module)
	if !ok {
		return nil, rt.Raise(rt.TypeError, "%s is not a class/module", Inspect(v))
	}
	return mod, nil
}

func (n *ConstRead) Evaluate(f *Frame) (Value, error) {
	rt := f.Runtime()
	mod, err := n.scope(f)
	if err != nil {
		return nil, err
	}
	ch := n.chain.Load()
	if ch == nil {
		ch = rt.NewCacheChain(n.Name, true)
		if !n.chain.CompareAndSwap(nil, ch) {
			ch = n.chain.Load()
		}
	}
	return ch.Dispatch(f.thread, mod, nil, nil, ActionReadConstant)
}
