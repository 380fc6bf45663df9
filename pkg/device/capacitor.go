package device

import (
	"github.com/snietofennis/BEP-code/pkg/matrix"
)

type Capacitor struct {
	BaseDevice
	branch
	slot  int
	ic    float64
	hasIC bool
}

var _ TimeDependent = (*Capacitor)(nil)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseDevice: newBase(name, nodeNames, value)}
}

func (c *Capacitor) GetType() string { return "C" }

// SetIC sets the branch voltage at t=0.
func (c *Capacitor) SetIC(v float64) {
	c.ic = v
	c.hasIC = true
}

func (c *Capacitor) IC() (float64, bool) { return c.ic, c.hasIC }

func (c *Capacitor) Slot() int { return c.slot }

func (c *Capacitor) SetSlots(first int) int {
	c.slot = first
	return first + 1
}

func (c *Capacitor) Load(m matrix.DeviceMatrix, status *CircuitStatus) error {
	bIdx := c.branchIdx
	x := status.X
	n1, n2 := c.Nodes[0], c.Nodes[1]

	loadKCL(m, c.Nodes, bIdx, x)

	if status.Mode == OperatingPointAnalysis {
		if status.Holds(bIdx) {
			// v - ic
			loadBranchVoltage(m, bIdx, c.Nodes, x)
			m.AddResidual(bIdx, -c.ic)
			return nil
		}
		// Open circuit with a gmin leak: I - gmin*v
		m.AddElement(bIdx, bIdx, 1)
		m.AddResidual(bIdx, x[bIdx]-status.Gmin*branchVoltage(c.Nodes, x))
		if n1 != 0 {
			m.AddElement(bIdx, n1, -status.Gmin)
		}
		if n2 != 0 {
			m.AddElement(bIdx, n2, status.Gmin)
		}
		return nil
	}

	// I - C*(a0*(v - v_prev) - b*v'_prev)
	h := status.History[c.slot]
	v := branchVoltage(c.Nodes, x)
	geq := c.Value * status.A0
	m.AddElement(bIdx, bIdx, 1)
	if n1 != 0 {
		m.AddElement(bIdx, n1, -geq)
	}
	if n2 != 0 {
		m.AddElement(bIdx, n2, geq)
	}
	m.AddResidual(bIdx, x[bIdx]-c.Value*(status.A0*(v-h.Value)-status.B*h.Deriv))
	return nil
}

func (c *Capacitor) UpdateState(status *CircuitStatus, next []Slot) error {
	v := branchVoltage(c.Nodes, status.X)
	// dv/dt = I/C holds at every converged point.
	next[c.slot] = Slot{Value: v, Deriv: status.X[c.branchIdx] / c.Value}
	return nil
}
