package device

import (
	"github.com/snietofennis/BEP-code/pkg/matrix"
)

type Inductor struct {
	BaseDevice
	branch
	slot  int
	ic    float64
	hasIC bool
}

var _ TimeDependent = (*Inductor)(nil)
var _ InductorComponent = (*Inductor)(nil)

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseDevice: newBase(name, nodeNames, value)}
}

func (l *Inductor) GetType() string { return "L" }

// SetIC sets the branch current at t=0.
func (l *Inductor) SetIC(i float64) {
	l.ic = i
	l.hasIC = true
}

func (l *Inductor) IC() (float64, bool) { return l.ic, l.hasIC }

func (l *Inductor) Slot() int { return l.slot }

func (l *Inductor) SetSlots(first int) int {
	l.slot = first
	return first + 1
}

func (l *Inductor) Load(m matrix.DeviceMatrix, status *CircuitStatus) error {
	bIdx := l.branchIdx
	x := status.X

	loadKCL(m, l.Nodes, bIdx, x)

	if status.Mode == OperatingPointAnalysis {
		if status.Holds(bIdx) {
			m.AddElement(bIdx, bIdx, 1)
			m.AddResidual(bIdx, x[bIdx]-l.ic)
			return nil
		}
		// Short circuit: V+ - V- - gmin*I
		loadBranchVoltage(m, bIdx, l.Nodes, x)
		m.AddElement(bIdx, bIdx, -status.Gmin)
		m.AddResidual(bIdx, -status.Gmin*x[bIdx])
		return nil
	}

	// V+ - V- - L*(a0*(i - i_prev) - b*i'_prev), coupling added by Mutual
	h := status.History[l.slot]
	loadBranchVoltage(m, bIdx, l.Nodes, x)
	m.AddElement(bIdx, bIdx, -l.Value*status.A0)
	m.AddResidual(bIdx, -l.Value*(status.A0*(x[bIdx]-h.Value)-status.B*h.Deriv))
	return nil
}

func (l *Inductor) UpdateState(status *CircuitStatus, next []Slot) error {
	i := status.X[l.branchIdx]
	if status.Mode == OperatingPointAnalysis {
		next[l.slot] = Slot{Value: i, Deriv: branchVoltage(l.Nodes, status.X) / l.Value}
		return nil
	}
	h := status.History[l.slot]
	next[l.slot] = Slot{Value: i, Deriv: status.A0*(i-h.Value) - status.B*h.Deriv}
	return nil
}
