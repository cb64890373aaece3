package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Runtime: the garnet execution core
// ---------------------------------------------------------------------------

// Options tunes the adaptive machinery.
type Options struct {
	// MaxCacheEntries is how many receiver representations a call site
	// specializes for before going megamorphic.
	MaxCacheEntries int

	// MaxFieldCacheEntries is how many shapes an instance-variable site
	// caches.
	MaxFieldCacheEntries int

	// MaxShapeFields is the field count past which objects switch to
	// dictionary storage.
	MaxShapeFields int

	// SweepInterval enables the periodic finalizer sweeper when positive.
	SweepInterval time.Duration

	// Profile turns on call timing, receiver and value histograms, and
	// loop counters (see Runtime.Profile).
	Profile bool
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		MaxCacheEntries:      DefaultMaxEntries,
		MaxFieldCacheEntries: DefaultMaxFieldEntries,
		MaxShapeFields:       DefaultMaxShapeFields,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxCacheEntries <= 0 {
		o.MaxCacheEntries = d.MaxCacheEntries
	}
	if o.MaxFieldCacheEntries <= 0 {
		o.MaxFieldCacheEntries = d.MaxFieldCacheEntries
	}
	if o.MaxShapeFields <= 0 {
		o.MaxShapeFields = d.MaxShapeFields
	}
	return o
}

// Runtime owns every table of one interpreter instance: symbols, shapes,
// the class hierarchy, globals, threads and the safepoint machinery.
type Runtime struct {
	id   uuid.UUID
	opts Options

	// Global tables
	Symbols *SymbolTable
	Shapes  *ShapeTable

	globalsMu sync.RWMutex
	globals   map[string]Value

	// Well-known classes
	BasicObjectClass  *Module
	ObjectClass       *Module
	ModuleClass       *Module
	ClassClass        *Module
	KernelModule      *Module
	NilClass          *Module
	TrueClass         *Module
	FalseClass        *Module
	IntegerClass      *Module
	FloatClass        *Module
	SymbolClass       *Module
	StringClass       *Module
	ArrayClass        *Module
	ProcClass         *Module
	ObjectSpaceModule *Module

	// Exception hierarchy
	ExceptionClass *Module
	StandardError  *Module
	NameError      *Module
	NoMethodError  *Module
	ArgumentError  *Module
	TypeError      *Module
	RuntimeError   *Module

	IndexError        *Module
	RangeError        *Module
	ZeroDivisionError *Module

	// Main is the top-level self.
	Main *Object

	nextID atomic.Int64

	// Threads
	gil        GlobalLock
	safepoint  *SafepointCoordinator
	threadsMu  sync.Mutex
	threads    map[*Thread]struct{}
	mainThread *Thread

	// Finalization
	Finalizers *FinalizationManager
	sweeper    *ObjectSpaceSweeper

	// Cache sites, for statistics
	chains      siteRegistry[*CacheChain]
	fieldCaches siteRegistry[*FieldCache]
	loops       siteRegistry[*LoopCounter]
}

// NewRuntime creates and bootstraps a runtime.
func NewRuntime(opts Options) *Runtime {
	opts = opts.withDefaults()
	rt := &Runtime{
		id:      uuid.New(),
		opts:    opts,
		Symbols: NewSymbolTable(),
		Shapes:  NewShapeTable(opts.MaxShapeFields),
		globals: make(map[string]Value),
		threads: make(map[*Thread]struct{}),
	}
	rt.safepoint = newSafepointCoordinator(rt)

	rt.bootstrap()

	rt.Finalizers = newFinalizationManager(rt)
	rt.mainThread = rt.NewThread("main")
	if opts.SweepInterval > 0 {
		rt.sweeper = NewObjectSpaceSweeper(rt, opts.SweepInterval)
		rt.sweeper.Start()
	}
	return rt
}

// ---------------------------------------------------------------------------
// Bootstrap: Create core classes
// ---------------------------------------------------------------------------

func (rt *Runtime) bootstrap() {
	// Phase 1: BasicObject, Object, Module and Class refer to each other.
	rt.BasicObjectClass = rt.newModule("BasicObject", ModuleKindClass, nil)
	rt.ObjectClass = rt.newModule("Object", ModuleKindClass, rt.BasicObjectClass)
	rt.ModuleClass = rt.newModule("Module", ModuleKindClass, rt.ObjectClass)
	rt.ClassClass = rt.newModule("Class", ModuleKindClass, rt.ModuleClass)

	core := []*Module{rt.BasicObjectClass, rt.ObjectClass, rt.ModuleClass, rt.ClassClass}
	for _, c := range core {
		c.class = rt.ClassClass
	}
	for _, c := range core {
		rt.attachMetaclass(c)
	}
	for _, c := range core {
		if c != rt.ObjectClass {
			c.lexicalParent = rt.ObjectClass
		}
		rt.ObjectClass.SetConstant(c.name, c)
	}

	// Phase 2: Kernel and the value classes
	rt.KernelModule = rt.DefineModule("Kernel", nil)
	if err := rt.ObjectClass.Include(rt.KernelModule); err != nil {
		panic(err)
	}
	rt.NilClass = rt.DefineClass("NilClass", nil, nil)
	rt.TrueClass = rt.DefineClass("TrueClass", nil, nil)
	rt.FalseClass = rt.DefineClass("FalseClass", nil, nil)
	rt.IntegerClass = rt.DefineClass("Integer", nil, nil)
	rt.FloatClass = rt.DefineClass("Float", nil, nil)
	rt.SymbolClass = rt.DefineClass("Symbol", nil, nil)
	rt.StringClass = rt.DefineClass("String", nil, nil)
	rt.ArrayClass = rt.DefineClass("Array", nil, nil)
	rt.ProcClass = rt.DefineClass("Proc", nil, nil)
	rt.ObjectSpaceModule = rt.DefineModule("ObjectSpace", nil)

	// Phase 3: Exception hierarchy
	rt.bootstrapExceptionClasses()

	// Phase 4: top-level self and builtins
	rt.Main = rt.NewObject(rt.ObjectClass)
	rt.registerKernel()
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// ID returns the runtime's instance id.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// Options returns the effective options.
func (rt *Runtime) Options() Options { return rt.opts }

// GlobalLock returns the interpreter-wide lock.
func (rt *Runtime) GlobalLock() *GlobalLock { return &rt.gil }

// Safepoints returns the safepoint coordinator.
func (rt *Runtime) Safepoints() *SafepointCoordinator { return rt.safepoint }

// MainThread returns the thread used by Run.
func (rt *Runtime) MainThread() *Thread { return rt.mainThread }

// allocID hands out heap identities. They are multiples of 8 from 24 up,
// disjoint from the ids ObjectIDOf derives for unboxed values.
func (rt *Runtime) allocID() int64 { return 8*rt.nextID.Add(1) + 16 }

// ClassOf returns the class method lookup for v starts from: the singleton
// class when v has one, its class otherwise.
func (rt *Runtime) ClassOf(v Value) *Module {
	switch x := v.(type) {
	case nil:
		return rt.NilClass
	case bool:
		if x {
			return rt.TrueClass
		}
		return rt.FalseClass
	case int64:
		return rt.IntegerClass
	case float64:
		return rt.FloatClass
	case *Symbol:
		return rt.SymbolClass
	case string:
		return rt.StringClass
	case *Object:
		return x.dispatchClass()
	case *Module:
		if x.singleton != nil {
			return x.singleton
		}
		return rt.ClassClass
	case *Array:
		return rt.ArrayClass
	case *Proc:
		return rt.ProcClass
	default:
		return rt.ObjectClass
	}
}

// RealClassOf returns v's class, skipping singleton classes.
func (rt *Runtime) RealClassOf(v Value) *Module {
	c := rt.ClassOf(v)
	for c.IsSingleton() {
		c = c.Superclass()
	}
	return c
}

// IsKindOf reports whether v is an instance of mod or of a class that
// inherits or includes it.
func (rt *Runtime) IsKindOf(v Value, mod *Module) bool {
	return rt.ClassOf(v).IsSubmoduleOf(mod)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global returns the value of a global variable.
func (rt *Runtime) Global(name string) (Value, bool) {
	rt.globalsMu.RLock()
	defer rt.globalsMu.RUnlock()
	v, ok := rt.globals[name]
	return v, ok
}

// SetGlobal assigns a global variable.
func (rt *Runtime) SetGlobal(name string, v Value) {
	rt.globalsMu.Lock()
	rt.globals[name] = v
	rt.globalsMu.Unlock()
}

// GlobalNames returns the sorted names of all globals.
func (rt *Runtime) GlobalNames() []string {
	rt.globalsMu.RLock()
	defer rt.globalsMu.RUnlock()
	names := make([]string, 0, len(rt.globals))
	for name := range rt.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rt *Runtime) globalValues() []Value {
	rt.globalsMu.RLock()
	defer rt.globalsMu.RUnlock()
	out := make([]Value, 0, len(rt.globals))
	for _, v := range rt.globals {
		out = append(out, v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes fn on the main thread under the global lock. Calls to Run
// must not overlap.
func (rt *Runtime) Run(fn func(t *Thread) error) error {
	t := rt.mainThread
	t.EnterGlobalLock()
	defer t.LeaveGlobalLock()
	return fn(t)
}

// Execute evaluates body in a fresh top-level frame with the given number
// of local slots. A top-level return yields its value.
func (rt *Runtime) Execute(t *Thread, body Node, locals int) (Value, error) {
	f := t.PushFrame(NewFrame(t, rt.Main, rt.ObjectClass, locals))
	defer t.PopFrame()
	v, err := body.Evaluate(f)
	if rs, ok := err.(*returnSignal); ok && rs.frame == f {
		return rs.value, nil
	}
	return v, err
}

// Shutdown stops the periodic sweeper and runs outstanding finalizers on
// the main thread.
func (rt *Runtime) Shutdown() {
	if rt.sweeper != nil {
		rt.sweeper.Stop()
	}
	_ = rt.Run(func(t *Thread) error {
		rt.Finalizers.Shutdown(t)
		return nil
	})
}
