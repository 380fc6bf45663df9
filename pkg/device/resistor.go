package device

import (
	"fmt"

	"github.com/snietofennis/BEP-code/pkg/matrix"
)

type Resistor struct {
	BaseDevice
	branch
}

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{BaseDevice: newBase(name, nodeNames, value)}
}

func (r *Resistor) GetType() string { return "R" }

// Load adds V+ - V- - R*I.
func (r *Resistor) Load(m matrix.DeviceMatrix, status *CircuitStatus) error {
	if len(r.Nodes) != 2 {
		return fmt.Errorf("resistor %s: requires exactly 2 nodes", r.Name)
	}
	bIdx := r.branchIdx
	x := status.X

	loadKCL(m, r.Nodes, bIdx, x)
	loadBranchVoltage(m, bIdx, r.Nodes, x)
	m.AddElement(bIdx, bIdx, -r.Value)
	m.AddResidual(bIdx, -r.Value*x[bIdx])
	return nil
}
