package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Language-level errors
// ---------------------------------------------------------------------------

// RaisedError carries a language exception through Go error returns.
// Rescue nodes catch it by class; hosts use errors.As.
type RaisedError struct {
	Exception *Object
	message   string
}

func (e *RaisedError) Error() string {
	return e.Exception.Class().Name() + ": " + e.message
}

// Class returns the exception's class.
func (e *RaisedError) Class() *Module { return e.Exception.Class() }

// Message returns the exception message.
func (e *RaisedError) Message() string { return e.message }

// messageField holds an exception's message text.
const messageField = "@message"

// Raise builds an exception of class with a formatted message.
func (rt *Runtime) Raise(class *Module, format string, args ...any) *RaisedError {
	msg := fmt.Sprintf(format, args...)
	return rt.NewException(class, msg)
}

// NewException allocates an exception object without raising it.
func (rt *Runtime) NewException(class *Module, msg string) *RaisedError {
	obj := rt.NewObject(class)
	rt.WriteField(obj, messageField, msg)
	return &RaisedError{Exception: obj, message: msg}
}

// AsRaised wraps a language exception object in a RaisedError.
func (rt *Runtime) AsRaised(obj *Object) *RaisedError {
	msg := obj.Class().Name()
	if v, ok := rt.ReadField(obj, messageField); ok {
		if s, ok := v.(string); ok {
			msg = s
		}
	}
	return &RaisedError{Exception: obj, message: msg}
}

// exceptionFrom builds the error raised by raise(class, msg). class is an
// exception class (RuntimeError when nil) or an exception object.
func (rt *Runtime) exceptionFrom(class, msg Value, hasMsg bool) error {
	cls := rt.RuntimeError
	switch x := class.(type) {
	case nil:
	case *Module:
		cls = x
	case *Object:
		if x.Class().IsSubmoduleOf(rt.ExceptionClass) {
			return rt.AsRaised(x)
		}
		return rt.Raise(rt.TypeError, "exception class/object expected")
	case string:
		if !hasMsg {
			return rt.NewException(rt.RuntimeError, x)
		}
		return rt.Raise(rt.TypeError, "exception class/object expected")
	default:
		return rt.Raise(rt.TypeError, "exception class/object expected")
	}
	if !cls.IsSubmoduleOf(rt.ExceptionClass) {
		return rt.Raise(rt.TypeError, "exception class/object expected")
	}
	text := cls.Name()
	if hasMsg {
		if s, ok := msg.(string); ok {
			text = s
		} else {
			text = Inspect(msg)
		}
	}
	return rt.NewException(cls, text)
}

// IsA reports whether err is a language exception of class (or a subclass).
func IsA(err error, class *Module) bool {
	var raised *RaisedError
	if !errors.As(err, &raised) {
		return false
	}
	return raised.Class().IsSubmoduleOf(class)
}

// bootstrapExceptionClasses builds the exception hierarchy:
//
//	Exception
//	  StandardError
//	    NameError
//	      NoMethodError
//	    ArgumentError
//	    TypeError
//	    RuntimeError
//	    IndexError
//	    RangeError
//	    ZeroDivisionError
func (rt *Runtime) bootstrapExceptionClasses() {
	rt.ExceptionClass = rt.DefineClass("Exception", rt.ObjectClass, nil)
	rt.StandardError = rt.DefineClass("StandardError", rt.ExceptionClass, nil)
	rt.NameError = rt.DefineClass("NameError", rt.StandardError, nil)
	rt.NoMethodError = rt.DefineClass("NoMethodError", rt.NameError, nil)
	rt.ArgumentError = rt.DefineClass("ArgumentError", rt.StandardError, nil)
	rt.TypeError = rt.DefineClass("TypeError", rt.StandardError, nil)
	rt.RuntimeError = rt.DefineClass("RuntimeError", rt.StandardError, nil)
	rt.IndexError = rt.DefineClass("IndexError", rt.StandardError, nil)
	rt.RangeError = rt.DefineClass("RangeError", rt.StandardError, nil)
	rt.ZeroDivisionError = rt.DefineClass("ZeroDivisionError", rt.StandardError, nil)

	rt.ExceptionClass.DefineAttrReader("message")
}

// ---------------------------------------------------------------------------
// Internal errors
// ---------------------------------------------------------------------------

// ShapeInconsistencyError is panicked when a slot descriptor does not match
// the object it is applied to. It indicates a runtime bug, not a language
// error, and is never recovered.
type ShapeInconsistencyError struct {
	Shape  *Shape
	Field  string
	Index  int
	Reason string
}

func (e *ShapeInconsistencyError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("shape inconsistency: %s (field %q, slot %d, %v)", e.Reason, e.Field, e.Index, e.Shape)
	}
	return fmt.Sprintf("shape inconsistency: %s (slot %d, %v)", e.Reason, e.Index, e.Shape)
}

// returnSignal unwinds a return statement to the method frame that owns it.
type returnSignal struct {
	frame *Frame
	value Value
}

func (r *returnSignal) Error() string { return "unexpected return" }
