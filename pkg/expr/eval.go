package expr

import (
	"math"

	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// Env supplies the state an expression is evaluated against. Indices are the
// 1-based unknown numbers the partials are taken with respect to; 0 marks a
// value that is not an unknown (ground, a fixed quantity).
type Env interface {
	Current(name string) (float64, int, error)
	Voltage(node string) (float64, int, error)
	Time() float64
	// Aux returns the value and unknown index of the tree's k-th auxiliary state.
	Aux(ordinal int) (float64, int)
}

// Policy controls division by small denominators.
type Policy struct {
	// Denominators with magnitude at or below Epsilon are singular.
	Epsilon float64
	// When positive, denominators smaller than Floor are clamped to ±Floor
	// instead of failing. The clamped denominator contributes no partials.
	Floor float64
}

var DefaultPolicy = Policy{Epsilon: 1e-15}

type evaluator struct {
	env  Env
	pol  Policy
	tree *Tree
}

// Eval returns the value of the tree and its partials at the state env exposes.
func (t *Tree) Eval(env Env, pol Policy) (Value, error) {
	ev := &evaluator{env: env, pol: pol, tree: t}
	return ev.node(t.root)
}

// AuxInput evaluates the argument of the k-th idt/ddt in the tree.
func (t *Tree) AuxInput(ordinal int, env Env, pol Policy) (Value, error) {
	ev := &evaluator{env: env, pol: pol, tree: t}
	return ev.node(t.inputs[ordinal])
}

func (ev *evaluator) singular(v float64) error {
	return &simerr.SingularExpressionError{Expr: ev.tree.text, Value: v}
}

func (ev *evaluator) node(n Node) (Value, error) {
	v, err := n.eval(ev)
	if err != nil {
		return Value{}, err
	}
	if !isFinite(v.Val) {
		return Value{}, ev.singular(v.Val)
	}
	for _, p := range v.Grad {
		if !isFinite(p.Coef) {
			return Value{}, ev.singular(v.Val)
		}
	}
	return v, nil
}

func (n *numNode) eval(ev *evaluator) (Value, error) { return Const(n.val), nil }

func (n *timeNode) eval(ev *evaluator) (Value, error) { return Const(ev.env.Time()), nil }

func (n *refNode) eval(ev *evaluator) (Value, error) {
	if n.kind == 'I' {
		v, idx, err := ev.env.Current(n.name)
		if err != nil {
			return Value{}, err
		}
		return Var(v, idx), nil
	}

	v, idx, err := ev.env.Voltage(n.name)
	if err != nil {
		return Value{}, err
	}
	a := Var(v, idx)
	if n.name2 == "" {
		return a, nil
	}
	v, idx, err = ev.env.Voltage(n.name2)
	if err != nil {
		return Value{}, err
	}
	return sub(a, Var(v, idx)), nil
}

func (n *unaryNode) eval(ev *evaluator) (Value, error) {
	x, err := ev.node(n.x)
	if err != nil {
		return Value{}, err
	}
	return neg(x), nil
}

func boolean(b bool) Value {
	if b {
		return Const(1)
	}
	return Const(0)
}

func (n *binaryNode) eval(ev *evaluator) (Value, error) {
	l, err := ev.node(n.l)
	if err != nil {
		return Value{}, err
	}
	r, err := ev.node(n.r)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "+":
		return add(l, r), nil
	case "-":
		return sub(l, r), nil
	case "*":
		return mul(l, r), nil
	case "/":
		return ev.divide(l, r)
	case "^":
		return power(l, r), nil
	case "<":
		return boolean(l.Val < r.Val), nil
	case "<=":
		return boolean(l.Val <= r.Val), nil
	case ">":
		return boolean(l.Val > r.Val), nil
	case ">=":
		return boolean(l.Val >= r.Val), nil
	case "==":
		return boolean(l.Val == r.Val), nil
	case "!=":
		return boolean(l.Val != r.Val), nil
	}
	panic("expr: unknown operator " + n.op)
}

func (ev *evaluator) divide(l, r Value) (Value, error) {
	den := r.Val
	mag := math.Abs(den)
	if ev.pol.Floor > 0 && mag < ev.pol.Floor {
		den = ev.pol.Floor
		if r.Val < 0 {
			den = -den
		}
		return quo(l, r, den, true), nil
	}
	if mag <= ev.pol.Epsilon {
		return Value{}, ev.singular(r.Val)
	}
	return quo(l, r, den, false), nil
}

func (n *callNode) eval(ev *evaluator) (Value, error) {
	// if() evaluates only the selected branch.
	if n.fn == "if" {
		c, err := ev.node(n.args[0])
		if err != nil {
			return Value{}, err
		}
		if c.Val != 0 {
			return ev.node(n.args[1])
		}
		return ev.node(n.args[2])
	}

	args := make([]Value, len(n.args))
	for i, a := range n.args {
		v, err := ev.node(a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	x := args[0]

	switch n.fn {
	case "abs":
		if x.Val < 0 {
			return neg(x), nil
		}
		return x, nil
	case "sgn":
		switch {
		case x.Val > 0:
			return Const(1), nil
		case x.Val < 0:
			return Const(-1), nil
		}
		return Const(0), nil
	case "sqrt":
		if x.Val < 0 {
			return Value{}, ev.singular(x.Val)
		}
		s := math.Sqrt(x.Val)
		if s == 0 {
			return Const(0), nil
		}
		return chain(x, s, 0.5/s), nil
	case "exp":
		e := math.Exp(x.Val)
		return chain(x, e, e), nil
	case "ln", "log":
		if x.Val <= 0 {
			return Value{}, ev.singular(x.Val)
		}
		return chain(x, math.Log(x.Val), 1/x.Val), nil
	case "log10":
		if x.Val <= 0 {
			return Value{}, ev.singular(x.Val)
		}
		return chain(x, math.Log10(x.Val), 1/(x.Val*math.Ln10)), nil
	case "min":
		for _, a := range args[1:] {
			if a.Val < x.Val {
				x = a
			}
		}
		return x, nil
	case "max":
		for _, a := range args[1:] {
			if a.Val > x.Val {
				x = a
			}
		}
		return x, nil
	case "pow":
		return power(x, args[1]), nil
	case "limit":
		lo, hi := args[1], args[2]
		if lo.Val > hi.Val {
			lo, hi = hi, lo
		}
		switch {
		case x.Val < lo.Val:
			return lo, nil
		case x.Val > hi.Val:
			return hi, nil
		}
		return x, nil
	}
	panic("expr: unknown function " + n.fn)
}

func (n *auxNode) eval(ev *evaluator) (Value, error) {
	v, idx := ev.env.Aux(n.ordinal)
	return Var(v, idx), nil
}
