package vm

// Frame is one activation: a method body, a block body or a top-level
// script. Block frames point at the frame they were declared in through
// Parent, which is how closures reach outer locals.
type Frame struct {
	thread *Thread

	Self   Value
	Method *MethodEntry
	Block  *Proc   // block passed to the enclosing method
	Parent *Frame  // lexically enclosing frame, nil for method and top frames
	Module *Module // lexical module: constant scope and definition target

	locals   []Value
	isMethod bool
}

// NewFrame creates a top-level frame with n local slots.
func NewFrame(t *Thread, self Value, module *Module, n int) *Frame {
	return &Frame{
		thread:   t,
		Self:     self,
		Module:   module,
		locals:   make([]Value, n),
		isMethod: true,
	}
}

// Thread returns the thread executing the frame.
func (f *Frame) Thread() *Thread { return f.thread }

// Runtime returns the runtime the frame belongs to.
func (f *Frame) Runtime() *Runtime { return f.thread.rt }

// Local returns local slot i.
func (f *Frame) Local(i int) Value { return f.locals[i] }

// SetLocal stores v in local slot i.
func (f *Frame) SetLocal(i int, v Value) { f.locals[i] = v }

// NumLocals returns the number of local slots.
func (f *Frame) NumLocals() int { return len(f.locals) }

// Up returns the frame depth lexical levels out.
func (f *Frame) Up(depth int) *Frame {
	cur := f
	for ; depth > 0; depth-- {
		cur = cur.Parent
	}
	return cur
}

// Home returns the method (or top-level) frame a block frame belongs to.
func (f *Frame) Home() *Frame {
	cur := f
	for !cur.isMethod && cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// definee returns the module def-style definitions target.
func (f *Frame) definee() *Module {
	if f.Module != nil {
		return f.Module
	}
	return f.thread.rt.ObjectClass
}

func (f *Frame) visitValues(fn func(Value)) {
	fn(f.Self)
	if f.Block != nil {
		fn(f.Block)
	}
	if f.Module != nil {
		fn(f.Module)
	}
	for _, v := range f.locals {
		fn(v)
	}
}
