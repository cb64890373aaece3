package vm

import (
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Integer and Float primitives
// ---------------------------------------------------------------------------

func (rt *Runtime) registerNumericPrimitives() {
	i := rt.IntegerClass
	f := rt.FloatClass

	for _, c := range []*Module{i, f} {
		c.Def1("+", rt.arith('+'))
		c.Def1("-", rt.arith('-'))
		c.Def1("*", rt.arith('*'))
		c.Def1("/", rt.arith('/'))
		c.Def1("%", rt.arith('%'))
		c.Def1("<", rt.compare(func(c int) bool { return c < 0 }))
		c.Def1("<=", rt.compare(func(c int) bool { return c <= 0 }))
		c.Def1(">", rt.compare(func(c int) bool { return c > 0 }))
		c.Def1(">=", rt.compare(func(c int) bool { return c >= 0 }))
		c.Def1("==", func(t *Thread, self, other Value) (Value, error) {
			a, aok := toFloat(self)
			b, bok := toFloat(other)
			return aok && bok && a == b, nil
		})
	}

	i.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return strconv.FormatInt(self.(int64), 10), nil
	})
	i.Def0("to_f", func(t *Thread, self Value) (Value, error) {
		return float64(self.(int64)), nil
	})
	i.Def0("to_i", func(t *Thread, self Value) (Value, error) {
		return self, nil
	})
	i.Def0("succ", func(t *Thread, self Value) (Value, error) {
		return self.(int64) + 1, nil
	})
	i.Def0("zero?", func(t *Thread, self Value) (Value, error) {
		return self.(int64) == 0, nil
	})
	i.DefN("times", Arity{}, func(t *Thread, inv *Invocation) (Value, error) {
		if inv.Block == nil {
			return nil, rt.Raise(rt.ArgumentError, "no block given")
		}
		n := inv.Self.(int64)
		for k := int64(0); k < n; k++ {
			if _, err := inv.Block.Call(t, []Value{k}, nil); err != nil {
				return nil, err
			}
		}
		return n, nil
	})

	f.Def0("to_s", func(t *Thread, self Value) (Value, error) {
		return strconv.FormatFloat(self.(float64), 'g', -1, 64), nil
	})
	f.Def0("to_i", func(t *Thread, self Value) (Value, error) {
		return int64(self.(float64)), nil
	})
	f.Def0("to_f", func(t *Thread, self Value) (Value, error) {
		return self, nil
	})
	f.Def0("nan?", func(t *Thread, self Value) (Value, error) {
		return math.IsNaN(self.(float64)), nil
	})
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// arith implements a binary operator over Integer and Float. Integer
// operands stay integral; anything involving a Float is a Float.
func (rt *Runtime) arith(op byte) Method1Func {
	return func(t *Thread, self, other Value) (Value, error) {
		if a, ok := self.(int64); ok {
			if b, ok := other.(int64); ok {
				switch op {
				case '+':
					return a + b, nil
				case '-':
					return a - b, nil
				case '*':
					return a * b, nil
				case '/', '%':
					if b == 0 {
						return nil, rt.Raise(rt.ZeroDivisionError, "divided by 0")
					}
					q, r := a/b, a%b
					if r != 0 && (r < 0) != (b < 0) {
						q--
						r += b
					}
					if op == '/' {
						return q, nil
					}
					return r, nil
				}
			}
		}
		a, aok := toFloat(self)
		b, bok := toFloat(other)
		if !aok || !bok {
			return nil, rt.Raise(rt.TypeError, "%s can't be coerced into %s", rt.ClassOf(other).Name(), rt.ClassOf(self).Name())
		}
		switch op {
		case '+':
			return a + b, nil
		case '-':
			return a - b, nil
		case '*':
			return a * b, nil
		case '/':
			return a / b, nil
		default:
			return math.Mod(a, b), nil
		}
	}
}

func (rt *Runtime) compare(pred func(int) bool) Method1Func {
	return func(t *Thread, self, other Value) (Value, error) {
		a, aok := toFloat(self)
		b, bok := toFloat(other)
		if !aok || !bok {
			return nil, rt.Raise(rt.ArgumentError, "comparison of %s with %s failed", rt.ClassOf(self).Name(), Inspect(other))
		}
		switch {
		case a < b:
			return pred(-1), nil
		case a > b:
			return pred(1), nil
		default:
			return pred(0), nil
		}
	}
}
