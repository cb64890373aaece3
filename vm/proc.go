package vm

// NativeFunc is a Go function usable wherever a block is expected.
type NativeFunc func(t *Thread, args []Value) (Value, error)

// Proc is a block closure: a body plus the frame it was declared in.
type Proc struct {
	id     int64
	Self   Value
	Frame  *Frame
	Body   *MethodBody
	native NativeFunc
}

// NewProc closes body over frame.
func (rt *Runtime) NewProc(self Value, frame *Frame, body *MethodBody) *Proc {
	return &Proc{id: rt.allocID(), Self: self, Frame: frame, Body: body}
}

// NewNativeProc wraps a Go function as a proc.
func (rt *Runtime) NewNativeProc(fn NativeFunc) *Proc {
	return &Proc{id: rt.allocID(), Self: rt.Main, native: fn}
}

// ObjectID returns the proc's identity.
func (p *Proc) ObjectID() int64 { return p.id }

// Arity returns the body's arity; native procs accept anything.
func (p *Proc) Arity() Arity {
	if p.Body == nil {
		return AnyArity
	}
	return p.Body.Arity()
}

// Call runs the proc with its captured self.
func (p *Proc) Call(t *Thread, args []Value, block *Proc) (Value, error) {
	return p.CallWithSelf(t, p.Self, args, block)
}

// CallWithSelf runs the proc with self rebound, as define_method does.
func (p *Proc) CallWithSelf(t *Thread, self Value, args []Value, block *Proc) (Value, error) {
	if p.native != nil {
		t.Checkpoint()
		return p.native(t, args)
	}
	return p.Body.invokeBlock(t, p, self, args, block)
}

func (p *Proc) visitReferents(fn func(Value)) {
	fn(p.Self)
	for f := p.Frame; f != nil; f = f.Parent {
		f.visitValues(fn)
	}
}

// procBody adapts a proc into a method body for define_method. Methods
// built this way capture the proc's frame and are invoked indirectly.
type procBody struct {
	proc *Proc
}

func (b procBody) Invoke(t *Thread, inv *Invocation) (Value, error) {
	if b.proc.native != nil {
		return b.proc.native(t, inv.Args)
	}
	return b.proc.Body.invokeMethod(t, inv, b.proc.Frame)
}

func (b procBody) Arity() Arity { return b.proc.Arity() }

func (b procBody) visitReferents(fn func(Value)) { fn(b.proc) }

// DefineMethodFromProc defines name on m with the proc as its body.
func (m *Module) DefineMethodFromProc(name string, p *Proc) *MethodEntry {
	return m.DefineMethod(&MethodEntry{
		Name:             name,
		Body:             procBody{proc: p},
		Arity:            p.Arity(),
		DeclarationFrame: p.Frame,
	})
}
