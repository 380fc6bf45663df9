package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/pkg/simerr"
)

type mapEnv struct {
	currents map[string]float64
	voltages map[string]float64
	index    map[string]int
	t        float64
	aux      []float64
}

func (e *mapEnv) Current(name string) (float64, int, error) {
	v, ok := e.currents[name]
	if !ok {
		return 0, 0, &simerr.UnknownReferenceError{Kind: "I", Name: name}
	}
	return v, e.index["I("+name+")"], nil
}

func (e *mapEnv) Voltage(node string) (float64, int, error) {
	if node == "0" {
		return 0, 0, nil
	}
	v, ok := e.voltages[node]
	if !ok {
		return 0, 0, &simerr.UnknownReferenceError{Kind: "V", Name: node}
	}
	return v, e.index["V("+node+")"], nil
}

func (e *mapEnv) Time() float64 { return e.t }

func (e *mapEnv) Aux(k int) (float64, int) { return e.aux[k], 100 + k }

func eval(t *testing.T, text string, params map[string]float64, env Env, pol Policy) Value {
	t.Helper()
	tree, err := Parse(text, params)
	require.NoError(t, err)
	v, err := tree.Eval(env, pol)
	require.NoError(t, err)
	return v
}

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"1", 1},
		{"2.5", 2.5},
		{".5", 0.5},
		{"1e3", 1000},
		{"1.5E-2", 0.015},
		{"10k", 10e3},
		{"3meg", 3e6},
		{"10uF", 10e-6},
		{"1ns", 1e-9},
		{"2m", 2e-3},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"{1 + 2} * 3", 9},
		{"2 ^ 3 ^ 2", 512},
		{"2 ** 3", 8},
		{"-2 ^ 2", -4},
		{"2 ^ -1", 0.5},
		{"10 / 4 / 5", 0.5},
		{"3 - 2 - 1", 0},
		{"1 < 2", 1},
		{"2 <= 1", 0},
		{"1 + 1 == 2", 1},
		{"1 != 1", 0},
		{"abs(-3)", 3},
		{"sqrt(16)", 4},
		{"ln(exp(2))", 2},
		{"log10(1000)", 3},
		{"min(3, 1, 2)", 1},
		{"max(3, 1, 2)", 3},
		{"pow(2, 10)", 1024},
		{"limit(5, 0, 1)", 1},
		{"limit(-5, 0, 1)", 0},
		{"if(0, 1, 2)", 2},
		{"if(1 > 0, 1, 2)", 1},
		{"sgn(-0.1)", -1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			tree, err := Parse(tt.text, nil)
			require.NoError(t, err)
			v, ok := tree.Constant()
			require.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-12)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text string
		pos  int
	}{
		{"0.0.025", 3},
		{"", 0},
		{"1 +", 3},
		{"(1 + 2", 6},
		{"{missing}", 1},
		{"foo(1)", 0},
		{"I(a, b)", 2},
		{"V(a, b, c)", 2},
		{"I()", 2},
		{"ddt(1, 2)", 0},
		{"idt(1, I(x))", 0},
		{"limit(1, 2)", 0},
		{"1 $ 2", 2},
		{"1 2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := Parse(tt.text, nil)
			require.Error(t, err)
			var perr *simerr.ParseError
			require.True(t, errors.As(err, &perr), "got %T", err)
			assert.Equal(t, tt.pos, perr.Pos)
		})
	}
}

func TestParamsResolvedAtParseTime(t *testing.T) {
	params := map[string]float64{"Target_Ratio": 0.8, "k": 2}
	tree, err := Parse("{Target_Ratio} * k", params)
	require.NoError(t, err)

	params["k"] = 100
	v, ok := tree.Constant()
	require.True(t, ok)
	assert.InDelta(t, 1.6, v, 1e-12)
	assert.Equal(t, "({Target_Ratio}*{k})", tree.String())
}

func TestReferences(t *testing.T) {
	tree, err := Parse("I(BLoan-to-Deposit_Ratio1) * V(Savings) - V(a, 0) + I(BLoan-to-Deposit_Ratio1)", nil)
	require.NoError(t, err)
	assert.Equal(t, []Reference{
		{Kind: 'I', Name: "BLoan-to-Deposit_Ratio1"},
		{Kind: 'V', Name: "Savings"},
		{Kind: 'V', Name: "a"},
		{Kind: 'V', Name: "0"},
	}, tree.References())
	assert.False(t, tree.UsesTime())
}

func TestEvalPartials(t *testing.T) {
	env := &mapEnv{
		currents: map[string]float64{"Loans": 40, "Deposits": 50},
		voltages: map[string]float64{"n1": 2},
		index:    map[string]int{"I(Loans)": 3, "I(Deposits)": 4, "V(n1)": 1},
	}

	v := eval(t, "I(Loans) / I(Deposits)", nil, env, DefaultPolicy)
	assert.InDelta(t, 0.8, v.Val, 1e-12)
	assert.InDelta(t, 1.0/50, v.Grad.Coef(3), 1e-12)
	assert.InDelta(t, -40.0/2500, v.Grad.Coef(4), 1e-12)
	assert.Zero(t, v.Grad.Coef(1))

	v = eval(t, "V(n1)^2 * I(Loans) + exp(V(n1, 0))", nil, env, DefaultPolicy)
	assert.InDelta(t, 160+math.Exp(2), v.Val, 1e-9)
	assert.InDelta(t, 2*2*40+math.Exp(2), v.Grad.Coef(1), 1e-9)
	assert.InDelta(t, 4, v.Grad.Coef(3), 1e-12)

	v = eval(t, "max(I(Loans), I(Deposits)) - min(I(Loans), 45)", nil, env, DefaultPolicy)
	assert.InDelta(t, 10, v.Val, 1e-12)
	assert.Equal(t, Gradient{{Index: 3, Coef: -1}, {Index: 4, Coef: 1}}, v.Grad)
}

func TestEvalTimeAndIf(t *testing.T) {
	tree, err := Parse("if(time < 120, 0.02, 0.03)", nil)
	require.NoError(t, err)
	assert.True(t, tree.UsesTime())

	env := &mapEnv{t: 119.9}
	v, err := tree.Eval(env, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, 0.02, v.Val)

	env.t = 120
	v, err = tree.Eval(env, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, 0.03, v.Val)
}

func TestDivisionPolicy(t *testing.T) {
	env := &mapEnv{
		currents: map[string]float64{"Deposits": 0, "Loans": 10},
		index:    map[string]int{"I(Deposits)": 2, "I(Loans)": 1},
	}
	tree, err := Parse("I(Loans) / I(Deposits)", nil)
	require.NoError(t, err)

	_, err = tree.Eval(env, DefaultPolicy)
	var serr *simerr.SingularExpressionError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "I(Loans) / I(Deposits)", serr.Expr)

	v, err := tree.Eval(env, Policy{Epsilon: 1e-15, Floor: 1e-3})
	require.NoError(t, err)
	assert.InDelta(t, 1e4, v.Val, 1e-6)
	assert.InDelta(t, 1e3, v.Grad.Coef(1), 1e-9)
	assert.Zero(t, v.Grad.Coef(2))

	env.currents["Deposits"] = -1e-6
	v, err = tree.Eval(env, Policy{Epsilon: 1e-15, Floor: 1e-3})
	require.NoError(t, err)
	assert.InDelta(t, -1e4, v.Val, 1e-6)
}

func TestNonFiniteRejected(t *testing.T) {
	env := &mapEnv{
		currents: map[string]float64{"x": -1},
		index:    map[string]int{"I(x)": 1},
	}
	for _, text := range []string{"sqrt(I(x))", "ln(I(x))", "exp(1000)", "10^400"} {
		tree, err := Parse(text, nil)
		require.NoError(t, err)
		_, err = tree.Eval(env, DefaultPolicy)
		var serr *simerr.SingularExpressionError
		assert.True(t, errors.As(err, &serr), text)
	}
}

func TestUnknownReferenceAtEval(t *testing.T) {
	tree, err := Parse("I(nowhere) + 1", nil)
	require.NoError(t, err)
	_, err = tree.Eval(&mapEnv{}, DefaultPolicy)
	var uerr *simerr.UnknownReferenceError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "nowhere", uerr.Name)
}

func TestAuxOrdinals(t *testing.T) {
	tree, err := Parse("2 * idt(I(e) + ddt(I(e)), 5) + idt(1)", nil)
	require.NoError(t, err)

	assert.Equal(t, []Aux{
		{Kind: AuxIntegral, Ordinal: 0, IC: 5},
		{Kind: AuxDerivative, Ordinal: 1},
		{Kind: AuxIntegral, Ordinal: 2},
	}, tree.Aux())

	env := &mapEnv{
		currents: map[string]float64{"e": 3},
		index:    map[string]int{"I(e)": 7},
		aux:      []float64{10, 20, 30},
	}
	v, err := tree.Eval(env, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v.Val)
	assert.Equal(t, Gradient{{Index: 100, Coef: 2}, {Index: 102, Coef: 1}}, v.Grad)

	in, err := tree.AuxInput(0, env, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, 23.0, in.Val)
	assert.Equal(t, Gradient{{Index: 7, Coef: 1}, {Index: 101, Coef: 1}}, in.Grad)

	in, err = tree.AuxInput(2, env, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, 1.0, in.Val)
	assert.Empty(t, in.Grad)

	_, ok := tree.Constant()
	assert.False(t, ok)
}
