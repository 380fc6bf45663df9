package device

import (
	"fmt"
	"math"

	"github.com/snietofennis/BEP-code/pkg/matrix"
)

// Mutual couples two inductors with coefficient k, M = k*sqrt(L1*L2). It owns
// no unknown; it adds M*di/dt cross terms to both inductor rows.
type Mutual struct {
	BaseDevice
	inductors   []InductorComponent
	names       []string
	coefficient float64
}

func NewMutual(name string, indNames []string, k float64) *Mutual {
	return &Mutual{
		BaseDevice:  BaseDevice{Name: name, Value: k},
		names:       indNames,
		coefficient: k,
		inductors:   make([]InductorComponent, len(indNames)),
	}
}

func (m *Mutual) GetType() string { return "K" }

func (m *Mutual) SetInductor(index int, ind InductorComponent) error {
	if index < 0 || index >= len(m.inductors) {
		return fmt.Errorf("invalid inductor index: %d", index)
	}
	m.inductors[index] = ind
	return nil
}

func (m *Mutual) GetInductors() []InductorComponent {
	return m.inductors
}

func (m *Mutual) GetInductorNames() []string {
	return m.names
}

func (m *Mutual) GetCoefficient() float64 { return m.coefficient }

// Inductance returns M for the pair.
func (m *Mutual) Inductance() float64 {
	return m.coefficient * math.Sqrt(m.inductors[0].GetValue()*m.inductors[1].GetValue())
}

func (m *Mutual) Load(mat matrix.DeviceMatrix, status *CircuitStatus) error {
	if len(m.inductors) != 2 || m.inductors[0] == nil || m.inductors[1] == nil {
		return fmt.Errorf("mutual coupling %s requires two inductors", m.Name)
	}

	// Derivatives are zero at the operating point.
	if status.Mode != TransientAnalysis {
		return nil
	}

	M := m.Inductance()
	x := status.X
	for k, self := range m.inductors {
		other := m.inductors[1-k]
		h := status.History[other.Slot()]
		oIdx := other.BranchIndex()

		// V1 = L1*di1/dt + M*di2/dt, and the same for the second inductor
		mat.AddElement(self.BranchIndex(), oIdx, -M*status.A0)
		mat.AddResidual(self.BranchIndex(), -M*(status.A0*(x[oIdx]-h.Value)-status.B*h.Deriv))
	}
	return nil
}
