package expr

import (
	"math"
)

// Partial is d(value)/d(x[Index]).
type Partial struct {
	Index int
	Coef  float64
}

// Gradient is a sparse gradient sorted by unknown index. Index 0 (ground,
// constants) never appears.
type Gradient []Partial

// Value is a forward-mode dual number: a scalar and its partials.
type Value struct {
	Val  float64
	Grad Gradient
}

func Const(v float64) Value { return Value{Val: v} }

// Var is the unknown x[idx] with value v. idx <= 0 gives a constant.
func Var(v float64, idx int) Value {
	if idx <= 0 {
		return Value{Val: v}
	}
	return Value{Val: v, Grad: Gradient{{Index: idx, Coef: 1}}}
}

// Coef returns the partial with respect to x[idx].
func (g Gradient) Coef(idx int) float64 {
	for _, p := range g {
		if p.Index == idx {
			return p.Coef
		}
		if p.Index > idx {
			break
		}
	}
	return 0
}

// combine returns ca*a + cb*b, merging by index.
func combine(a Gradient, ca float64, b Gradient, cb float64) Gradient {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(Gradient, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Index < b[j].Index):
			out = append(out, Partial{a[i].Index, ca * a[i].Coef})
			i++
		case i >= len(a) || b[j].Index < a[i].Index:
			out = append(out, Partial{b[j].Index, cb * b[j].Coef})
			j++
		default:
			out = append(out, Partial{a[i].Index, ca*a[i].Coef + cb*b[j].Coef})
			i++
			j++
		}
	}
	return out
}

func (g Gradient) scale(c float64) Gradient {
	if len(g) == 0 {
		return nil
	}
	out := make(Gradient, len(g))
	for i, p := range g {
		out[i] = Partial{p.Index, c * p.Coef}
	}
	return out
}

func add(a, b Value) Value {
	return Value{a.Val + b.Val, combine(a.Grad, 1, b.Grad, 1)}
}

func sub(a, b Value) Value {
	return Value{a.Val - b.Val, combine(a.Grad, 1, b.Grad, -1)}
}

func mul(a, b Value) Value {
	return Value{a.Val * b.Val, combine(a.Grad, b.Val, b.Grad, a.Val)}
}

// quo divides by an already validated denominator. clamped drops the
// denominator's partials.
func quo(a, b Value, den float64, clamped bool) Value {
	v := a.Val / den
	if clamped {
		return Value{v, a.Grad.scale(1 / den)}
	}
	return Value{v, combine(a.Grad, 1/den, b.Grad, -v/den)}
}

func neg(a Value) Value {
	return Value{-a.Val, a.Grad.scale(-1)}
}

// chain applies a scalar function with derivative d at a.
func chain(a Value, f, d float64) Value {
	return Value{f, a.Grad.scale(d)}
}

func power(a, b Value) Value {
	v := math.Pow(a.Val, b.Val)
	var g Gradient
	if len(a.Grad) > 0 {
		g = a.Grad.scale(b.Val * math.Pow(a.Val, b.Val-1))
	}
	if len(b.Grad) > 0 && a.Val > 0 {
		g = combine(g, 1, b.Grad, v*math.Log(a.Val))
	}
	return Value{v, g}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
