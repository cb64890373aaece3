package vm

import (
	"testing"
)

// newTarget defines class Target with take(a, b), a private secret and a
// public reveal that calls secret on self.
func newTarget(rt *Runtime) *Module {
	c := rt.DefineClass("Target", nil, nil)
	c.Def("take", &MethodBody{
		Required: 2,
		Locals:   2,
		Body:     &ArrayLiteral{Elements: []Node{&LocalRead{Index: 0}, &LocalRead{Index: 1}}},
	}, Public)
	c.Def("secret", &MethodBody{Body: lit("hidden")}, Private)
	c.Def("reveal", &MethodBody{Body: NewCall(nil, "secret")}, Public)
	return c
}

func TestDispatchArgumentEvaluationOrder(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	target := rt.NewObject(newTarget(rt))

	var order []Value
	rt.ObjectClass.DefineMethod(&MethodEntry{
		Name:       "record",
		Visibility: Private,
		Arity:      Arity{Required: 1},
		Body: Method1Func(func(t *Thread, self, v Value) (Value, error) {
			order = append(order, v)
			return v, nil
		}),
	})

	call := NewCall(NewCall(nil, "record", lit(target)), "take",
		NewCall(nil, "record", lit(int64(1))),
		NewCall(nil, "record", lit(int64(2))),
	).WithBlock(NewCall(nil, "record", lit(nil)))

	v := mustRun(t, rt, call)
	arr, ok := v.(*Array)
	if !ok || arr.Len() != 2 || arr.At(0) != int64(1) || arr.At(1) != int64(2) {
		t.Fatalf("Expected [1, 2], got %v", Inspect(v))
	}

	want := []Value{target, int64(1), int64(2), nil}
	if len(order) != len(want) {
		t.Fatalf("Expected %d evaluations, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Evaluation %d: expected %v, got %v", i, Inspect(want[i]), Inspect(order[i]))
		}
	}
}

func TestDispatchArityError(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	target := rt.NewObject(newTarget(rt))

	_, err := run(rt, NewCall(lit(target), "take", lit(int64(1))))
	raised := expectRaise(t, err, rt.ArgumentError)
	if raised.Message() != "wrong number of arguments (given 1, expected 2)" {
		t.Errorf("Unexpected message %q", raised.Message())
	}
}

func TestDispatchSplat(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	target := rt.NewObject(newTarget(rt))

	v := mustRun(t, rt, NewCall(lit(target), "take",
		lit(int64(1)), &ArrayLiteral{Elements: []Node{lit(int64(2))}}).WithSplat())
	if arr := v.(*Array); arr.At(1) != int64(2) {
		t.Errorf("Expected the splatted element as the second argument, got %v", Inspect(arr.At(1)))
	}

	_, err := run(rt, NewCall(lit(target), "take", lit(int64(1)), lit(int64(2))).WithSplat())
	expectRaise(t, err, rt.TypeError)
}

func TestDispatchPrivate(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	target := rt.NewObject(newTarget(rt))

	_, err := run(rt, NewCall(lit(target), "secret"))
	raised := expectRaise(t, err, rt.NoMethodError)
	if raised.Message() != "private method 'secret' called for "+Inspect(target) {
		t.Errorf("Unexpected message %q", raised.Message())
	}
	if recv, _ := rt.ReadField(raised.Exception, "@receiver"); recv != target {
		t.Error("Expected NoMethodError#receiver to be the target")
	}

	if v := mustRun(t, rt, NewCall(lit(target), "reveal")); v != "hidden" {
		t.Errorf("Expected implicit-self call to reach the private method, got %v", v)
	}
	target.Class().Def("reveal_self", &MethodBody{Body: NewCall(&SelfNode{}, "secret")}, Public)
	if v := mustRun(t, rt, NewCall(lit(target), "reveal_self")); v != "hidden" {
		t.Errorf("Expected an explicit self call to reach the private method, got %v", v)
	}
	if v := mustRun(t, rt, NewCall(lit(target), "send", sym(rt, "secret"))); v != "hidden" {
		t.Errorf("Expected send to reach the private method, got %v", v)
	}
	_, err = run(rt, NewCall(lit(target), "public_send", sym(rt, "secret")))
	expectRaise(t, err, rt.NoMethodError)

	if v := mustRun(t, rt, NewCall(lit(target), "respond_to?", sym(rt, "secret"))); v != false {
		t.Errorf("Expected respond_to? false for a private method, got %v", v)
	}
	if v := mustRun(t, rt, NewCall(lit(target), "respond_to?", sym(rt, "secret"), lit(true))); v != true {
		t.Errorf("Expected respond_to?(include_all) true, got %v", v)
	}
}

func TestDispatchVisibilityChangeInvalidates(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := newTarget(rt)
	target := rt.NewObject(class)
	site := NewCall(lit(target), "take", lit(int64(1)), lit(int64(2)))

	mustRun(t, rt, site)
	if err := class.SetVisibility("take", Private); err != nil {
		t.Fatal(err)
	}
	_, err := run(rt, site)
	expectRaise(t, err, rt.NoMethodError)
}

func TestDispatchProtected(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Account", nil, nil)
	class.Def("balance", &MethodBody{Body: lit(int64(10))}, Protected)
	class.Def("same?", &MethodBody{
		Required: 1,
		Locals:   1,
		Body: NewCall(NewCall(&LocalRead{Index: 0}, "balance"), "==",
			NewCall(nil, "balance")),
	}, Public)

	a := rt.NewObject(class)
	b := rt.NewObject(class)

	if v := mustRun(t, rt, NewCall(lit(a), "same?", lit(b))); v != true {
		t.Errorf("Expected a protected call from an instance to succeed, got %v", v)
	}
	_, err := run(rt, NewCall(lit(a), "balance"))
	expectRaise(t, err, rt.NoMethodError)
}

func TestDispatchMethodMissing(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Ghost", nil, nil)
	class.Def("method_missing", &MethodBody{
		Required: 1,
		Rest:     true,
		Locals:   2,
		Body:     &ArrayLiteral{Elements: []Node{&LocalRead{Index: 0}, &LocalRead{Index: 1}}},
	}, Private)
	ghost := rt.NewObject(class)

	v := mustRun(t, rt, NewCall(lit(ghost), "boo", lit(int64(1))))
	arr, ok := v.(*Array)
	if !ok || arr.Len() != 2 {
		t.Fatalf("Expected [name, args], got %v", Inspect(v))
	}
	if s, ok := arr.At(0).(*Symbol); !ok || s.Name() != "boo" {
		t.Errorf("Expected :boo, got %v", Inspect(arr.At(0)))
	}
	if rest := arr.At(1).(*Array); rest.Len() != 1 || rest.At(0) != int64(1) {
		t.Errorf("Expected [1], got %v", Inspect(rest))
	}

	// Without respond_to_missing? the ghost method is not advertised.
	respond := NewCall(lit(ghost), "respond_to?", sym(rt, "boo"))
	if v := mustRun(t, rt, respond); v != false {
		t.Errorf("Expected respond_to? false, got %v", v)
	}

	class.Def("respond_to_missing?", &MethodBody{Required: 2, Locals: 2, Body: lit(true)}, Private)
	if v := mustRun(t, rt, respond); v != true {
		t.Errorf("Expected respond_to? true after respond_to_missing?, got %v", v)
	}
}

func TestDispatchDefaultMethodMissingThroughSend(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	obj := rt.NewObject(rt.ObjectClass)
	_, err := run(rt, NewCall(lit(obj), "send", sym(rt, "method_missing"), sym(rt, "nope")))
	raised := expectRaise(t, err, rt.NoMethodError)
	if raised.Message() != "undefined method 'nope' for "+Inspect(obj) {
		t.Errorf("Unexpected message %q", raised.Message())
	}
}

func TestDispatchUnboxedReceivers(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	cases := []struct {
		node Node
		want Value
	}{
		{NewCall(lit(int64(7)), "+", lit(int64(5))), int64(12)},
		{NewCall(lit(int64(-7)), "/", lit(int64(2))), int64(-4)},
		{NewCall(lit(int64(-7)), "%", lit(int64(2))), int64(1)},
		{NewCall(lit(1.5), "*", lit(int64(2))), 3.0},
		{NewCall(lit("ab"), "+", lit("cd")), "abcd"},
		{NewCall(lit("ab"), "size"), int64(2)},
		{NewCall(lit(nil), "to_s"), ""},
		{NewCall(lit(true), "&", lit(false)), false},
		{NewCall(lit(int64(3)), "class"), rt.IntegerClass},
		{NewCall(sym(rt, "x"), "to_s"), "x"},
	}
	for _, c := range cases {
		v, err := run(rt, c.node)
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.node.(*CallNode).Name, err)
			continue
		}
		if v != c.want {
			t.Errorf("%s: expected %v, got %v", c.node.(*CallNode).Name, Inspect(c.want), Inspect(v))
		}
	}

	_, err := run(rt, NewCall(lit(int64(1)), "/", lit(int64(0))))
	expectRaise(t, err, rt.ZeroDivisionError)
}

func TestDefinedDoesNotRaise(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	target := rt.NewObject(newTarget(rt))

	cases := []struct {
		name string
		expr Node
		want Value
	}{
		{"public method", NewCall(lit(target), "take"), "method"},
		{"private method", NewCall(lit(target), "secret"), nil},
		{"missing receiver method", NewCall(NewCall(nil, "nope"), "foo"), nil},
		{"raising receiver", NewCall(&Raise{}, "foo"), nil},
		{"missing constant", NewConstRead(nil, "Nope"), nil},
		{"constant", NewConstRead(nil, "Target"), "constant"},
		{"missing field", NewFieldRead(nil, "@nope"), nil},
		{"missing global", &GlobalRead{Name: "$nope"}, nil},
		{"self", &SelfNode{}, "self"},
		{"nil", lit(nil), "nil"},
		{"local", &LocalRead{Index: 0}, "local-variable"},
		{"assignment", &LocalWrite{Index: 0, Value: lit(int64(1))}, "assignment"},
		{"yield without block", &Yield{}, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := mustRun(t, rt, &Defined{Expr: c.expr})
			if v != c.want {
				t.Errorf("Expected %v, got %v", Inspect(c.want), Inspect(v))
			}
		})
	}

	rt.SetGlobal("$set", int64(1))
	if v := mustRun(t, rt, &Defined{Expr: &GlobalRead{Name: "$set"}}); v != "global-variable" {
		t.Errorf("Expected global-variable, got %v", Inspect(v))
	}
}

func TestRescueAndRaise(t *testing.T) {
	rt := NewRuntime(DefaultOptions())

	// begin; raise ArgumentError, "bad"; rescue TypeError, ArgumentError => e; e.message; end
	node := &Rescue{
		Body:    &Raise{Class: lit(rt.ArgumentError), Message: lit("bad")},
		Classes: []Node{lit(rt.TypeError), lit(rt.ArgumentError)},
		Var:     0,
		Handler: NewCall(&LocalRead{Index: 0}, "message"),
	}
	if v := mustRun(t, rt, node); v != "bad" {
		t.Errorf("Expected \"bad\", got %v", Inspect(v))
	}

	// Unmatched classes propagate.
	_, err := run(rt, &Rescue{
		Body:    &Raise{Class: lit(rt.RuntimeError), Message: lit("boom")},
		Classes: []Node{lit(rt.TypeError)},
		Var:     -1,
	})
	raised := expectRaise(t, err, rt.RuntimeError)
	if raised.Message() != "boom" {
		t.Errorf("Expected \"boom\", got %q", raised.Message())
	}

	// A bare string raises RuntimeError.
	_, err = run(rt, NewCall(nil, "raise", lit("plain")))
	if raised := expectRaise(t, err, rt.RuntimeError); raised.Message() != "plain" {
		t.Errorf("Expected \"plain\", got %q", raised.Message())
	}

	// Non-exception classes are rejected.
	_, err = run(rt, &Raise{Class: lit(rt.ObjectClass)})
	expectRaise(t, err, rt.TypeError)
}

func TestReturnFromBlockReturnsFromMethod(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Finder", nil, nil)
	// def find; [1, 2, 3].each { |x| return x if x == 2 }; nil; end
	class.Def("find", &MethodBody{Body: &Sequence{Nodes: []Node{
		NewCall(&ArrayLiteral{Elements: []Node{lit(int64(1)), lit(int64(2)), lit(int64(3))}}, "each").
			WithBlock(&BlockLiteral{Body: &MethodBody{
				Required: 1,
				Locals:   1,
				Body: &If{
					Cond: NewCall(&LocalRead{Index: 0}, "==", lit(int64(2))),
					Then: &Return{Value: &LocalRead{Index: 0}},
				},
			}}),
		lit(nil),
	}}}, Public)

	if v := mustRun(t, rt, NewCall(lit(rt.NewObject(class)), "find")); v != int64(2) {
		t.Errorf("Expected 2, got %v", Inspect(v))
	}
}
