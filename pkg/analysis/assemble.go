package analysis

import (
	"math"

	"github.com/snietofennis/BEP-code/pkg/circuit"
	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/matrix"
)

// Assembler fills the Jacobian and the residual vector for one Newton
// iteration. It implements matrix.DeviceMatrix for the device loaders.
type Assembler struct {
	ckt *circuit.Circuit
	sys matrix.System
	f   []float64
	// scale sums the magnitudes of the terms of each row at x
	scale []float64
	x     []float64
	// pins replace an unknown's own row with x - value
	pins map[int]float64
	// gshunt adds a conductance from every node to ground
	gshunt float64
}

var _ matrix.DeviceMatrix = (*Assembler)(nil)

func NewAssembler(ckt *circuit.Circuit, sys matrix.System) *Assembler {
	return &Assembler{
		ckt:  ckt,
		sys:  sys,
		f:     make([]float64, ckt.Size()+1),
		scale: make([]float64, ckt.Size()+1),
		pins:  make(map[int]float64),
	}
}

func (a *Assembler) Pin(idx int, value float64) { a.pins[idx] = value }

func (a *Assembler) Pinned(idx int) bool {
	_, ok := a.pins[idx]
	return ok
}

func (a *Assembler) ClearPins() { clear(a.pins) }

func (a *Assembler) AddElement(i, j int, value float64) {
	if i == 0 || j == 0 || a.Pinned(i) {
		return
	}
	a.sys.AddElement(i, j, value)
	a.scale[i] += math.Abs(value * a.x[j])
}

func (a *Assembler) AddResidual(i int, value float64) {
	if i == 0 || a.Pinned(i) {
		return
	}
	a.f[i] += value
	a.scale[i] += math.Abs(value)
}

// Load evaluates every device at status.X. The returned residual is owned
// by the Assembler and valid until the next Load.
func (a *Assembler) Load(status *device.CircuitStatus) ([]float64, error) {
	a.sys.Clear()
	clear(a.f)
	clear(a.scale)
	a.x = status.X

	for _, dev := range a.ckt.GetDevices() {
		if err := dev.Load(a, status); err != nil {
			return nil, err
		}
	}

	if a.gshunt > 0 {
		for n := 1; n <= a.ckt.NumNodes(); n++ {
			a.AddElement(n, n, a.gshunt)
			a.AddResidual(n, a.gshunt*status.X[n])
		}
	}

	for idx, v := range a.pins {
		a.sys.AddElement(idx, idx, 1)
		a.f[idx] = status.X[idx] - v
		a.scale[idx] = math.Abs(status.X[idx]) + math.Abs(v)
	}
	return a.f, nil
}

// Scale returns, per row, the sum of the magnitudes of the terms the last
// Load added. A row has converged when its residual is small against it.
func (a *Assembler) Scale() []float64 { return a.scale }
