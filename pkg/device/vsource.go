package device

import (
	"math"
	"sort"

	"github.com/snietofennis/BEP-code/pkg/matrix"
)

// VoltageSource imposes a time-only value: V+ - V- = s(t), or I = s(t) when
// detached. A PULSE waveform is the pulse/step source.
type VoltageSource struct {
	BaseDevice
	branch
	vtype SourceType
	// DC, common params
	dcValue float64
	// SIN params
	amplitude float64
	freq      float64
	phase     float64
	// PULSE params
	v1     float64
	v2     float64
	delay  float64
	rise   float64
	fall   float64
	pWidth float64
	period float64
	// PWL params
	times  []float64
	values []float64
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBase(name, nodeNames, value),
		vtype:      DC,
		dcValue:    value,
	}
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBase(name, nodeNames, offset),
		vtype:      SIN,
		dcValue:    offset,
		amplitude:  amplitude,
		freq:       freq,
		phase:      phase,
	}
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBase(name, nodeNames, v1),
		vtype:      PULSE,
		v1:         v1,
		v2:         v2,
		delay:      delay,
		rise:       rise,
		fall:       fall,
		pWidth:     pWidth,
		period:     period,
	}
}

// NewPWLVoltageSource expects at least one point and non-decreasing times.
func NewPWLVoltageSource(name string, nodeNames []string, times []float64, values []float64) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBase(name, nodeNames, values[0]), // First value as initial value
		vtype:      PWL,
		times:      append([]float64(nil), times...),
		values:     append([]float64(nil), values...),
	}
}

func (v *VoltageSource) SourceType() SourceType { return v.vtype }

func (v *VoltageSource) GetVoltage(t float64) float64 {
	switch v.vtype {
	case DC:
		return v.dcValue
	case SIN:
		phaseRad := v.phase * math.Pi / 180.0
		return v.dcValue + v.amplitude*math.Sin(2.0*math.Pi*v.freq*t+phaseRad)
	case PULSE:
		return v.getPulseVoltage(t)
	case PWL:
		return v.getPWLVoltage(t)
	default:
		return 0
	}
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) Load(m matrix.DeviceMatrix, status *CircuitStatus) error {
	bIdx := v.branchIdx
	x := status.X
	s := v.GetVoltage(status.Time)

	if v.Detached() {
		m.AddElement(bIdx, bIdx, 1)
		m.AddResidual(bIdx, x[bIdx]-s)
		return nil
	}

	loadKCL(m, v.Nodes, bIdx, x)
	loadBranchVoltage(m, bIdx, v.Nodes, x)
	m.AddResidual(bIdx, -s)
	return nil
}

func (v *VoltageSource) getPulseVoltage(t float64) float64 {
	if t < v.delay {
		return v.v1
	}

	t = t - v.delay
	if v.period > 0 {
		t = math.Mod(t, v.period)
	}

	if t < v.rise {
		return v.v1 + (v.v2-v.v1)*t/v.rise
	}

	if t < v.rise+v.pWidth {
		return v.v2
	}

	fallStart := v.rise + v.pWidth
	if t < fallStart+v.fall {
		return v.v2 - (v.v2-v.v1)*(t-fallStart)/v.fall
	}

	return v.v1
}

func (v *VoltageSource) getPWLVoltage(t float64) float64 {
	if t <= v.times[0] {
		return v.values[0]
	}

	lastIdx := len(v.times) - 1
	if t >= v.times[lastIdx] {
		return v.values[lastIdx]
	}

	i := sort.SearchFloat64s(v.times, t)
	t1, t2 := v.times[i-1], v.times[i]
	v1, v2 := v.values[i-1], v.values[i]
	if t2 == t1 {
		return v2
	}
	return v1 + (v2-v1)*(t-t1)/(t2-t1)
}

// maxPulseCycles bounds the breakpoint list of a periodic pulse.
const maxPulseCycles = 10000

// Breakpoints lists the waveform corners in (0, stop].
func (v *VoltageSource) Breakpoints(stop float64) []float64 {
	var out []float64
	add := func(t float64) {
		if t > 0 && t <= stop {
			out = append(out, t)
		}
	}

	switch v.vtype {
	case PULSE:
		for k := 0; k < maxPulseCycles; k++ {
			start := v.delay + float64(k)*v.period
			if start > stop {
				break
			}
			add(start)
			add(start + v.rise)
			add(start + v.rise + v.pWidth)
			add(start + v.rise + v.pWidth + v.fall)
			if v.period <= 0 {
				break
			}
		}
	case PWL:
		for _, t := range v.times {
			add(t)
		}
	}
	sort.Float64s(out)
	return out
}
