package analysis

import (
	"math"

	"github.com/snietofennis/BEP-code/pkg/circuit"
	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/util"
)

// StepHistory keeps the last accepted value and derivative of every
// differential slot, plus the candidate values of the step being tried.
// The derivatives one accepted step further back feed the truncation
// error estimate.
type StepHistory struct {
	prev  []device.Slot
	next  []device.Slot
	older []float64
	// span is the step from older to prev, 0 when older is not usable
	span float64
}

func NewStepHistory(n int) *StepHistory {
	return &StepHistory{
		prev:  make([]device.Slot, n),
		next:  make([]device.Slot, n),
		older: make([]float64, n),
	}
}

// Slots returns the accepted history. Devices read it through
// CircuitStatus.History.
func (h *StepHistory) Slots() []device.Slot { return h.prev }

func (h *StepHistory) Reset() {
	clear(h.prev)
	clear(h.next)
	clear(h.older)
	h.span = 0
}

// Capture computes the candidate slots for the converged point in status.
func (h *StepHistory) Capture(ckt *circuit.Circuit, status *device.CircuitStatus) error {
	status.History = h.prev
	for _, dev := range ckt.GetDevices() {
		if td, ok := dev.(device.TimeDependent); ok {
			if err := td.UpdateState(status, h.next); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit makes the captured slots the accepted history. step is the length
// of the accepted step; pass 0 when the derivatives before it must not be
// used, at t=0 and across a breakpoint.
func (h *StepHistory) Commit(step float64) {
	for i, s := range h.prev {
		h.older[i] = s.Deriv
	}
	h.span = step
	h.prev, h.next = h.next, h.prev
}

// Truncation estimates the local truncation error of the captured step of
// length step and returns its largest ratio to the allowed error over all
// slots. A ratio above 1 means the step is too long.
//
// Backward Euler uses h/2*|d1 - d0|. The trapezoidal rule uses h^3/12 times
// the third derivative from divided differences of the last three
// derivatives and is not checked until the history has them.
func (h *StepHistory) Truncation(step float64, scheme util.Scheme, cfg Config) float64 {
	if scheme == util.Trapezoidal && h.span == 0 {
		return 0
	}
	ratio := 0.0
	for i := range h.next {
		d0, d1 := h.prev[i].Deriv, h.next[i].Deriv
		lte := step / 2 * math.Abs(d1-d0)
		if scheme == util.Trapezoidal {
			c1 := (d1 - d0) / step
			c0 := (d0 - h.older[i]) / h.span
			lte = step * step * step / 12 * math.Abs(2*(c1-c0)/(step+h.span))
		}
		scale := math.Max(math.Abs(h.prev[i].Value), math.Abs(h.next[i].Value))
		tol := cfg.TrTol * (cfg.LteRelTol*scale + cfg.LteAbsTol)
		ratio = math.Max(ratio, lte/tol)
	}
	return ratio
}
