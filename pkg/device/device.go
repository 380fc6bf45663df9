package device

import (
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/matrix"
)

type Device interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)
	// Load adds the device's residual rows and Jacobian entries at status.X.
	Load(m matrix.DeviceMatrix, status *CircuitStatus) error
}

// Branched devices own one branch current unknown.
type Branched interface {
	Device
	BranchIndex() int
	SetBranchIndex(idx int)
}

// TimeDependent devices carry differential history slots.
type TimeDependent interface {
	Device
	// SetSlots assigns consecutive slots starting at first and returns the
	// next free slot.
	SetSlots(first int) int
	// UpdateState writes the slot values for the accepted solution in status
	// into next. status.History still holds the previous values.
	UpdateState(status *CircuitStatus, next []Slot) error
}

// Breakpointer devices have instants the time stepper must land on.
type Breakpointer interface {
	Breakpoints(stop float64) []float64
}

type InductorComponent interface {
	Branched
	GetValue() float64
	Slot() int
}

type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

type AnalysisMode int

const (
	// OperatingPointAnalysis loads every time derivative as zero.
	OperatingPointAnalysis AnalysisMode = iota
	TransientAnalysis
)

// Slot is one differential quantity's last accepted value and derivative.
// For idt() the value is the state and the derivative its input; for ddt()
// the value is the input and the derivative the state.
type Slot struct {
	Value float64
	Deriv float64
}

// Resolver maps expression references to unknown indices.
type Resolver interface {
	CurrentIndex(name string) (int, error)
	VoltageIndex(node string) (int, error)
}

type CircuitStatus struct {
	Time     float64
	TimeStep float64
	Mode     AnalysisMode
	// Held marks the capacitor and inductor branches the t=0 solve fixes
	// at their initial condition, indexed by branch unknown.
	Held []bool
	// A0 and B are the integration coefficients of the step.
	A0, B   float64
	Gmin    float64
	X       []float64 // Iterate, 1-based, X[0] is ground
	History []Slot
	Policy  expr.Policy
	Refs    Resolver
}

// Holds reports whether branch idx is held at its initial condition.
func (s *CircuitStatus) Holds(idx int) bool {
	return idx < len(s.Held) && s.Held[idx]
}

func (d *BaseDevice) GetName() string {
	return d.Name
}

func (d *BaseDevice) GetNodes() []int {
	return d.Nodes
}

func (d *BaseDevice) GetNodeNames() []string {
	return d.NodeNames
}

func (d *BaseDevice) GetValue() float64 {
	return d.Value
}

func (d *BaseDevice) SetNodes(nodes []int) {
	d.Nodes = nodes
}

// Detached reports a two-terminal device with both terminals on ground. Such
// a source defines a named quantity without touching any node.
func (d *BaseDevice) Detached() bool {
	return len(d.Nodes) == 2 && d.Nodes[0] == 0 && d.Nodes[1] == 0
}

func newBase(name string, nodeNames []string, value float64) BaseDevice {
	return BaseDevice{
		Name:      name,
		Value:     value,
		NodeNames: nodeNames,
		Nodes:     make([]int, len(nodeNames)),
	}
}

// branch is the branch-current part shared by two-terminal devices.
type branch struct {
	branchIdx int
}

func (b *branch) BranchIndex() int {
	return b.branchIdx
}

func (b *branch) SetBranchIndex(idx int) {
	b.branchIdx = idx
}

// loadKCL adds the branch current leaving n+ and entering n-.
func loadKCL(m matrix.DeviceMatrix, nodes []int, bIdx int, x []float64) {
	i := x[bIdx]
	if n1 := nodes[0]; n1 != 0 {
		m.AddElement(n1, bIdx, 1)
		m.AddResidual(n1, i)
	}
	if n2 := nodes[1]; n2 != 0 {
		m.AddElement(n2, bIdx, -1)
		m.AddResidual(n2, -i)
	}
}

// loadBranchVoltage adds V+ - V- to row.
func loadBranchVoltage(m matrix.DeviceMatrix, row int, nodes []int, x []float64) {
	if n1 := nodes[0]; n1 != 0 {
		m.AddElement(row, n1, 1)
		m.AddResidual(row, x[n1])
	}
	if n2 := nodes[1]; n2 != 0 {
		m.AddElement(row, n2, -1)
		m.AddResidual(row, -x[n2])
	}
}

func branchVoltage(nodes []int, x []float64) float64 {
	return x[nodes[0]] - x[nodes[1]]
}

// loadValue subtracts an evaluated expression from row.
func loadValue(m matrix.DeviceMatrix, row int, v expr.Value, scale float64) {
	m.AddResidual(row, -scale*v.Val)
	for _, p := range v.Grad {
		m.AddElement(row, p.Index, -scale*p.Coef)
	}
}
