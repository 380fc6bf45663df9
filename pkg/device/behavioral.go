package device

import (
	"fmt"

	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/matrix"
)

type BehavioralMode int

const (
	// CurrentMode constrains the branch current: I = f(x).
	CurrentMode BehavioralMode = iota
	// VoltageMode constrains the branch voltage: V+ - V- = f(x).
	VoltageMode
)

func (m BehavioralMode) String() string {
	if m == VoltageMode {
		return "voltage"
	}
	return "current"
}

// Behavioral is a B source. Each idt()/ddt() in its expression owns an
// auxiliary unknown and a history slot.
type Behavioral struct {
	BaseDevice
	branch
	mode   BehavioralMode
	tree   *expr.Tree
	aux    []expr.Aux
	auxIdx []int
	slots  []int
}

var _ TimeDependent = (*Behavioral)(nil)

func NewBehavioral(name string, nodeNames []string, mode BehavioralMode, tree *expr.Tree) *Behavioral {
	aux := tree.Aux()
	return &Behavioral{
		BaseDevice: newBase(name, nodeNames, 0),
		mode:       mode,
		tree:       tree,
		aux:        aux,
		auxIdx:     make([]int, len(aux)),
		slots:      make([]int, len(aux)),
	}
}

func (b *Behavioral) GetType() string { return "B" }

func (b *Behavioral) Mode() BehavioralMode { return b.mode }

func (b *Behavioral) Expression() *expr.Tree { return b.tree }

func (b *Behavioral) Aux() []expr.Aux { return b.aux }

func (b *Behavioral) AuxIndex(ordinal int) int { return b.auxIdx[ordinal] }

func (b *Behavioral) SetAuxIndex(ordinal, idx int) { b.auxIdx[ordinal] = idx }

// AuxName is the result series name of the k-th auxiliary state.
func (b *Behavioral) AuxName(ordinal int) string {
	return fmt.Sprintf("%s(%s#%d)", b.aux[ordinal].Kind, b.Name, ordinal)
}

func (b *Behavioral) SetSlots(first int) int {
	for k := range b.slots {
		b.slots[k] = first + k
	}
	return first + len(b.slots)
}

// env adapts a CircuitStatus to expr.Env for this device.
type env struct {
	status *CircuitStatus
	dev    *Behavioral
}

func (e env) Current(name string) (float64, int, error) {
	idx, err := e.status.Refs.CurrentIndex(name)
	if err != nil {
		return 0, 0, err
	}
	return e.status.X[idx], idx, nil
}

func (e env) Voltage(node string) (float64, int, error) {
	idx, err := e.status.Refs.VoltageIndex(node)
	if err != nil {
		return 0, 0, err
	}
	return e.status.X[idx], idx, nil
}

func (e env) Time() float64 { return e.status.Time }

func (e env) Aux(ordinal int) (float64, int) {
	idx := e.dev.auxIdx[ordinal]
	return e.status.X[idx], idx
}

// Evaluate returns f at the iterate in status.
func (b *Behavioral) Evaluate(status *CircuitStatus) (expr.Value, error) {
	return b.tree.Eval(env{status, b}, status.Policy)
}

func (b *Behavioral) Load(m matrix.DeviceMatrix, status *CircuitStatus) error {
	bIdx := b.branchIdx
	x := status.X

	f, err := b.Evaluate(status)
	if err != nil {
		return fmt.Errorf("%s: %w", b.Name, err)
	}

	switch {
	case b.Detached() || b.mode == CurrentMode:
		// I - f
		loadKCL(m, b.Nodes, bIdx, x)
		m.AddElement(bIdx, bIdx, 1)
		m.AddResidual(bIdx, x[bIdx])
	default:
		// V+ - V- - f
		loadKCL(m, b.Nodes, bIdx, x)
		loadBranchVoltage(m, bIdx, b.Nodes, x)
	}
	loadValue(m, bIdx, f, 1)

	for k := range b.aux {
		if err := b.loadAux(m, status, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Behavioral) loadAux(m matrix.DeviceMatrix, status *CircuitStatus, k int) error {
	row := b.auxIdx[k]
	s := status.X[row]

	if status.Mode == OperatingPointAnalysis {
		m.AddElement(row, row, 1)
		switch b.aux[k].Kind {
		case expr.AuxIntegral:
			// Held at its initial value.
			m.AddResidual(row, s-b.aux[k].IC)
		case expr.AuxDerivative:
			m.AddResidual(row, s)
		}
		return nil
	}

	in, err := b.tree.AuxInput(k, env{status, b}, status.Policy)
	if err != nil {
		return fmt.Errorf("%s: %w", b.Name, err)
	}
	h := status.History[b.slots[k]]

	step := 1 / status.A0
	switch b.aux[k].Kind {
	case expr.AuxIntegral:
		// s - s_prev - (1/a0)*(f + b*f_prev)
		m.AddElement(row, row, 1)
		m.AddResidual(row, s-h.Value-step*status.B*h.Deriv)
		loadValue(m, row, in, step)
	case expr.AuxDerivative:
		// (d - (a0*(f - f_prev) - b*d_prev))/a0, in units of f
		m.AddElement(row, row, step)
		m.AddResidual(row, step*(s+status.B*h.Deriv)+h.Value)
		loadValue(m, row, in, 1)
	}
	return nil
}

func (b *Behavioral) UpdateState(status *CircuitStatus, next []Slot) error {
	for k := range b.aux {
		in, err := b.tree.AuxInput(k, env{status, b}, status.Policy)
		if err != nil {
			return fmt.Errorf("%s: %w", b.Name, err)
		}
		s := status.X[b.auxIdx[k]]
		switch b.aux[k].Kind {
		case expr.AuxIntegral:
			next[b.slots[k]] = Slot{Value: s, Deriv: in.Val}
		case expr.AuxDerivative:
			next[b.slots[k]] = Slot{Value: in.Val, Deriv: s}
		}
	}
	return nil
}
