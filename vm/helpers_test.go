package vm

import (
	"errors"
	"testing"
)

// run evaluates node at top level on the main thread.
func run(rt *Runtime, node Node) (Value, error) {
	var v Value
	err := rt.Run(func(t *Thread) error {
		var err error
		v, err = rt.Execute(t, node, 8)
		return err
	})
	return v, err
}

// mustRun is run for nodes that must not raise.
func mustRun(t *testing.T, rt *Runtime, node Node) Value {
	t.Helper()
	v, err := run(rt, node)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return v
}

// expectRaise checks that err is a language exception of class.
func expectRaise(t *testing.T, err error, class *Module) *RaisedError {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s, got no error", class.Name())
	}
	var raised *RaisedError
	if !errors.As(err, &raised) {
		t.Fatalf("Expected %s, got %v", class.Name(), err)
	}
	if !raised.Class().IsSubmoduleOf(class) {
		t.Fatalf("Expected %s, got %s: %s", class.Name(), raised.Class().Name(), raised.Message())
	}
	return raised
}

// returns defines a public method answering v.
func returns(m *Module, name string, v Value) {
	m.Def(name, &MethodBody{Body: &Literal{Value: v}}, Public)
}

func lit(v Value) Node { return &Literal{Value: v} }

func sym(rt *Runtime, name string) Node { return lit(rt.Symbols.Intern(name)) }
