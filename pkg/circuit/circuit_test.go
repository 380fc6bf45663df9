package circuit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

func rc(t *testing.T) *Circuit {
	t.Helper()
	b := New("rc")
	require.NoError(t, b.AddVoltageSource("V1", "in", "0", 1))
	require.NoError(t, b.AddResistor("R1", "in", "out", 1e3))
	require.NoError(t, b.AddCapacitor("C1", "out", "0", 1e-6))
	c, err := b.Finalize()
	require.NoError(t, err)
	return c
}

func TestUnknownOrdering(t *testing.T) {
	c := rc(t)
	assert.Equal(t, []string{"V(in)", "V(out)", "I(V1)", "I(R1)", "I(C1)"}, c.UnknownNames())
	assert.Equal(t, 5, c.Size())
	assert.Equal(t, 2, c.NumNodes())
	assert.Equal(t, 1, c.NumSlots())
	assert.Equal(t, NodeVoltage, c.Kind(2))
	assert.Equal(t, BranchCurrent, c.Kind(4))
	assert.Equal(t, "C1", c.Owner(5).GetName())
}

func TestAuxOrderingAndNames(t *testing.T) {
	b := New("alm", WithParams(map[string]float64{"q_L0": 48}))
	require.NoError(t, b.AddVoltageSource("Loans", "0", "0", 0.5))
	require.NoError(t, b.AddBehavioralCurrent("Loan_Balance", "0", "0", "{q_L0} + idt(I(Loans))"))
	require.NoError(t, b.AddBehavioralCurrent("Slope", "0", "0", "ddt(I(BLoan_Balance))"))
	c, err := b.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"I(Loans)", "I(Loan_Balance)", "I(Slope)", "idt(Loan_Balance#0)", "ddt(Slope#0)",
	}, c.UnknownNames())
	assert.Equal(t, AuxState, c.Kind(4))
	assert.Equal(t, 2, c.NumSlots())

	idx, err := c.LookupUnknown("idt(Loan_Balance#0)")
	require.NoError(t, err)
	assert.Equal(t, 4, idx)
	assert.True(t, c.Pinnable(4))
	assert.False(t, c.Pinnable(5))
}

func TestCurrentAliases(t *testing.T) {
	b := New("aliases")
	require.NoError(t, b.AddInductor("Loans", "a", "0", 1))
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	// A real element named like an alias keeps its own name.
	require.NoError(t, b.AddVoltageSource("LLoans", "0", "0", 1))
	c, err := b.Finalize()
	require.NoError(t, err)

	loans, err := c.CurrentIndex("Loans")
	require.NoError(t, err)
	lower, err := c.CurrentIndex("lLoans")
	require.NoError(t, err)
	assert.Equal(t, loans, lower)

	own, err := c.CurrentIndex("LLoans")
	require.NoError(t, err)
	assert.NotEqual(t, loans, own)
	assert.Equal(t, "I(LLoans)", c.UnknownName(own))

	r1, err := c.CurrentIndex("RR1")
	require.NoError(t, err)
	assert.Equal(t, "I(R1)", c.UnknownName(r1))

	_, err = c.CurrentIndex("Nope")
	var uerr *simerr.UnknownReferenceError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "I", uerr.Kind)
}

func TestVoltageIndexGround(t *testing.T) {
	c := rc(t)
	for _, g := range []string{"0", "gnd", "GND"} {
		idx, err := c.VoltageIndex(g)
		require.NoError(t, err)
		assert.Zero(t, idx)
	}
	_, err := c.LookupUnknown("V(0)")
	assert.Error(t, err)
}

func TestLookupUnknown(t *testing.T) {
	c := rc(t)
	cases := map[string]int{
		"V(out)": 2,
		"I(R1)":  4,
		"I(CC1)": 5,
		"R1":     4,
		"in":     1,
	}
	for name, want := range cases {
		idx, err := c.LookupUnknown(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, idx, name)
	}
	_, err := c.LookupUnknown("I(R9)")
	assert.Error(t, err)
	_, err = c.LookupUnknown("zz")
	assert.Error(t, err)
}

func TestPinnable(t *testing.T) {
	b := New("pins")
	require.NoError(t, b.AddVoltageSource("V1", "a", "0", 1))
	require.NoError(t, b.AddInductor("L1", "a", "b", 1))
	require.NoError(t, b.AddCapacitor("C1", "b", "0", 1))
	c, err := b.Finalize()
	require.NoError(t, err)

	pin := func(name string) bool {
		idx, err := c.LookupUnknown(name)
		require.NoError(t, err)
		return c.Pinnable(idx)
	}
	assert.True(t, pin("V(b)"))
	assert.True(t, pin("I(L1)"))
	assert.False(t, pin("I(C1)"))
	assert.False(t, pin("I(V1)"))
}

func TestBuilderErrors(t *testing.T) {
	b := New("errs")
	assert.ErrorIs(t, b.AddResistor("", "a", "0", 1), ErrEmptyName)
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	assert.ErrorIs(t, b.AddResistor("R1", "a", "0", 1), ErrDuplicateName)
	assert.ErrorIs(t, b.AddResistor("R2", "a", "0", 0), ErrInvalidValue)
	assert.ErrorIs(t, b.AddCapacitor("C1", "a", "0", -1), ErrInvalidValue)
	assert.ErrorIs(t, b.AddVoltageSource("V1", "a", "a", 1), ErrShorted)
	assert.ErrorIs(t, b.AddMutual("K1", "L1", "L2", 1), ErrInvalidValue)
	assert.ErrorIs(t, b.AddMutual("K2", "L1", "L1", 0.5), ErrInvalidValue)
	assert.ErrorIs(t, b.AddPWLSource("V2", "b", "0", []float64{1, 0}, []float64{0, 1}), ErrInvalidValue)

	err := b.AddBehavioralCurrent("B1", "0", "0", "0.0.025")
	var perr *simerr.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Pos)

	_, err = b.Finalize()
	require.NoError(t, err)
	assert.ErrorIs(t, b.AddResistor("R3", "a", "0", 1), ErrFinalized)
	_, err = b.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestMutualBinding(t *testing.T) {
	b := New("coupled")
	require.NoError(t, b.AddMutual("K1", "L1", "LL2", 0.5))
	require.NoError(t, b.AddInductor("L1", "a", "0", 1))
	require.NoError(t, b.AddInductor("L2", "b", "0", 4))
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	require.NoError(t, b.AddResistor("R2", "b", "0", 1))
	c, err := b.Finalize()
	require.NoError(t, err)

	dev, ok := c.Device("K1")
	require.True(t, ok)
	assert.Equal(t, 1.0, dev.(*device.Mutual).Inductance())

	b = New("bad coupling")
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	require.NoError(t, b.AddInductor("L1", "a", "0", 1))
	require.NoError(t, b.AddMutual("K1", "L1", "R1", 0.5))
	_, err = b.Finalize()
	assert.ErrorIs(t, err, ErrInvalidValue)

	b = New("missing inductor")
	require.NoError(t, b.AddInductor("L1", "a", "0", 1))
	require.NoError(t, b.AddMutual("K1", "L1", "L9", 0.5))
	_, err = b.Finalize()
	var uerr *simerr.UnknownReferenceError
	assert.ErrorAs(t, err, &uerr)
}

func TestUnknownReferenceAtFinalize(t *testing.T) {
	b := New("typo")
	require.NoError(t, b.AddVoltageSource("Loans", "0", "0", 1))
	require.NoError(t, b.AddBehavioralCurrent("Interest", "0", "0", "0.02 * I(Loan)"))
	_, err := b.Finalize()

	var uerr *simerr.UnknownReferenceError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "Loan", uerr.Name)
	assert.Equal(t, "Interest", uerr.Where)

	b = New("bad node")
	require.NoError(t, b.AddBehavioralVoltage("E1", "a", "0", "2*V(x,0)"))
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	_, err = b.Finalize()
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "V", uerr.Kind)
}

func TestStructuralSingularity(t *testing.T) {
	b := New("isolated")
	b.DeclareNode("lonely")
	require.NoError(t, b.AddVoltageSource("V1", "a", "0", 1))
	require.NoError(t, b.AddResistor("R1", "a", "0", 1))
	_, err := b.Finalize()
	var serr *simerr.SingularSystemError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "V(lonely)", serr.Unknown)

	b = New("parallel sources")
	require.NoError(t, b.AddVoltageSource("V1", "a", "0", 1))
	require.NoError(t, b.AddVoltageSource("V2", "a", "0", 2))
	_, err = b.Finalize()
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Unknowns)

	_, err = New("empty").Finalize()
	assert.True(t, errors.As(err, &serr))
}

func TestBreakpointsMerged(t *testing.T) {
	b := New("bps")
	require.NoError(t, b.AddPWLSource("V1", "0", "0", []float64{0, 10, 20}, []float64{0, 1, 1}))
	require.NoError(t, b.AddPWLSource("V2", "0", "0", []float64{0, 10, 30}, []float64{0, 1, 1}))
	c, err := b.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, c.Breakpoints(25))
}

func TestStartHolds(t *testing.T) {
	index := func(t *testing.T, c *Circuit, name string) int {
		t.Helper()
		i, err := c.CurrentIndex(name)
		require.NoError(t, err)
		return i
	}

	parallel := func(t *testing.T, opts ...ElementOption) *Circuit {
		t.Helper()
		b := New("parallel")
		require.NoError(t, b.AddVoltageSource("V1", "in", "0", 1))
		require.NoError(t, b.AddResistor("R1", "in", "n", 1))
		require.NoError(t, b.AddCapacitor("C4", "n", "0", 0.5))
		require.NoError(t, b.AddCapacitor("C5", "n", "0", 1, opts...))
		c, err := b.Finalize()
		require.NoError(t, err)
		return c
	}

	t.Run("parallel capacitors hold one", func(t *testing.T) {
		c := parallel(t)
		held := c.StartHolds(true, nil)
		assert.True(t, held[index(t, c, "C4")])
		assert.False(t, held[index(t, c, "C5")])
	})

	t.Run("explicit IC held first", func(t *testing.T) {
		c := parallel(t, IC(0))
		held := c.StartHolds(true, nil)
		assert.False(t, held[index(t, c, "C4")])
		assert.True(t, held[index(t, c, "C5")])
	})

	t.Run("nothing held without uic", func(t *testing.T) {
		c := parallel(t)
		assert.NotContains(t, c.StartHolds(false, nil), true)
	})

	t.Run("capacitor across a source", func(t *testing.T) {
		b := New("across")
		require.NoError(t, b.AddVoltageSource("V1", "in", "0", 1))
		require.NoError(t, b.AddCapacitor("C1", "in", "0", 1))
		c, err := b.Finalize()
		require.NoError(t, err)
		assert.False(t, c.StartHolds(true, nil)[index(t, c, "C1")])
	})

	t.Run("capacitor on a pinned node", func(t *testing.T) {
		b := New("pinned")
		require.NoError(t, b.AddResistor("R1", "n", "0", 1))
		require.NoError(t, b.AddCapacitor("C1", "n", "0", 1))
		c, err := b.Finalize()
		require.NoError(t, err)
		n, err := c.VoltageIndex("n")
		require.NoError(t, err)
		assert.True(t, c.StartHolds(true, nil)[index(t, c, "C1")])
		assert.False(t, c.StartHolds(true, []int{n})[index(t, c, "C1")])
	})

	t.Run("series inductors hold one", func(t *testing.T) {
		b := New("series")
		require.NoError(t, b.AddVoltageSource("V1", "in", "0", 1))
		require.NoError(t, b.AddInductor("L1", "in", "a", 1))
		require.NoError(t, b.AddInductor("L2", "a", "0", 1))
		c, err := b.Finalize()
		require.NoError(t, err)
		held := c.StartHolds(true, nil)
		assert.False(t, held[index(t, c, "L1")])
		assert.True(t, held[index(t, c, "L2")])
	})
}
