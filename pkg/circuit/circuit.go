package circuit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/snietofennis/BEP-code/internal/consts"
	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

var (
	ErrEmptyName     = errors.New("empty element name")
	ErrDuplicateName = errors.New("duplicate element name")
	ErrInvalidValue  = errors.New("invalid element value")
	ErrShorted       = errors.New("source terminals shorted")
	ErrFinalized     = errors.New("circuit already finalized")
)

// Option configures a Builder.
type Option func(*Builder)

// WithParams seeds the parameter table used by {param} substitution.
func WithParams(params map[string]float64) Option {
	return func(b *Builder) {
		for k, v := range params {
			b.params[k] = v
		}
	}
}

// ElementOption configures a single reactive element.
type ElementOption func(*elementOptions)

type elementOptions struct {
	ic    float64
	hasIC bool
}

// IC sets a capacitor voltage or inductor current at t=0.
func IC(v float64) ElementOption {
	return func(o *elementOptions) {
		o.ic = v
		o.hasIC = true
	}
}

// Builder collects nodes and elements. Nodes are created on first use.
type Builder struct {
	name      string
	params    map[string]float64
	nodeMap   map[string]int
	nodes     []string
	devices   []device.Device
	byName    map[string]device.Device
	finalized bool
}

func New(name string, opts ...Option) *Builder {
	b := &Builder{
		name:    name,
		params:  make(map[string]float64),
		nodeMap: make(map[string]int),
		byName:  make(map[string]device.Device),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func isGround(name string) bool {
	return consts.IsGround(name) || strings.EqualFold(name, consts.GroundAlt)
}

// DeclareNode creates a node now, fixing its position in the unknown vector.
func (b *Builder) DeclareNode(name string) {
	b.node(name)
}

func (b *Builder) node(name string) int {
	if isGround(name) {
		return 0
	}
	if idx, ok := b.nodeMap[name]; ok {
		return idx
	}
	b.nodes = append(b.nodes, name)
	b.nodeMap[name] = len(b.nodes)
	return len(b.nodes)
}

// SetParam defines or replaces a parameter for expressions added later.
func (b *Builder) SetParam(name string, value float64) {
	b.params[name] = value
}

func (b *Builder) Param(name string) (float64, bool) {
	v, ok := b.params[name]
	return v, ok
}

// Params returns a copy of the parameter table.
func (b *Builder) Params() map[string]float64 {
	out := make(map[string]float64, len(b.params))
	for k, v := range b.params {
		out[k] = v
	}
	return out
}

func (b *Builder) check(name string) error {
	if b.finalized {
		return ErrFinalized
	}
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if _, ok := b.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	return nil
}

func positive(kind, name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s %s must be positive and finite, got %g", ErrInvalidValue, kind, name, v)
	}
	return nil
}

func (b *Builder) notShorted(name, np, nm string) error {
	if np == nm && !isGround(np) {
		return fmt.Errorf("%w: %s between %s and %s", ErrShorted, name, np, nm)
	}
	return nil
}

func (b *Builder) add(dev device.Device, np, nm string) {
	dev.SetNodes([]int{b.node(np), b.node(nm)})
	b.devices = append(b.devices, dev)
	b.byName[dev.GetName()] = dev
}

func (b *Builder) AddResistor(name, np, nm string, r float64) error {
	if err := b.check(name); err != nil {
		return err
	}
	if err := positive("resistance", name, r); err != nil {
		return err
	}
	b.add(device.NewResistor(name, []string{np, nm}, r), np, nm)
	return nil
}

func (b *Builder) AddCapacitor(name, np, nm string, c float64, opts ...ElementOption) error {
	if err := b.check(name); err != nil {
		return err
	}
	if err := positive("capacitance", name, c); err != nil {
		return err
	}
	capacitor := device.NewCapacitor(name, []string{np, nm}, c)
	if o := options(opts); o.hasIC {
		capacitor.SetIC(o.ic)
	}
	b.add(capacitor, np, nm)
	return nil
}

func (b *Builder) AddInductor(name, np, nm string, l float64, opts ...ElementOption) error {
	if err := b.check(name); err != nil {
		return err
	}
	if err := positive("inductance", name, l); err != nil {
		return err
	}
	ind := device.NewInductor(name, []string{np, nm}, l)
	if o := options(opts); o.hasIC {
		ind.SetIC(o.ic)
	}
	b.add(ind, np, nm)
	return nil
}

func options(opts []ElementOption) elementOptions {
	var o elementOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AddMutual couples two inductors. The inductors may be added later; they
// are resolved by Finalize.
func (b *Builder) AddMutual(name, l1, l2 string, k float64) error {
	if err := b.check(name); err != nil {
		return err
	}
	if !(math.Abs(k) < 1) {
		return fmt.Errorf("%w: coupling %s needs |k| < 1, got %g", ErrInvalidValue, name, k)
	}
	if l1 == l2 {
		return fmt.Errorf("%w: coupling %s couples %s to itself", ErrInvalidValue, name, l1)
	}
	m := device.NewMutual(name, []string{l1, l2}, k)
	b.devices = append(b.devices, m)
	b.byName[name] = m
	return nil
}

func (b *Builder) AddVoltageSource(name, np, nm string, v float64) error {
	if err := b.checkSource(name, np, nm); err != nil {
		return err
	}
	b.add(device.NewDCVoltageSource(name, []string{np, nm}, v), np, nm)
	return nil
}

// AddSinSource adds offset + amplitude*sin(2*pi*freq*t + phase degrees).
func (b *Builder) AddSinSource(name, np, nm string, offset, amplitude, freq, phase float64) error {
	if err := b.checkSource(name, np, nm); err != nil {
		return err
	}
	b.add(device.NewSinVoltageSource(name, []string{np, nm}, offset, amplitude, freq, phase), np, nm)
	return nil
}

// AddPWLSource adds a piecewise linear source. Times must not decrease.
func (b *Builder) AddPWLSource(name, np, nm string, times, values []float64) error {
	if err := b.checkSource(name, np, nm); err != nil {
		return err
	}
	if len(times) == 0 || len(times) != len(values) {
		return fmt.Errorf("%w: %s needs matching time/value pairs", ErrInvalidValue, name)
	}
	if !sort.Float64sAreSorted(times) {
		return fmt.Errorf("%w: %s times must not decrease", ErrInvalidValue, name)
	}
	b.add(device.NewPWLVoltageSource(name, []string{np, nm}, times, values), np, nm)
	return nil
}

// Pulse holds the timing of a pulse source.
type Pulse struct {
	Initial float64
	Pulsed  float64
	Delay   float64
	Rise    float64
	Fall    float64
	Width   float64
	Period  float64
}

func (b *Builder) AddPulseSource(name, np, nm string, p Pulse) error {
	if err := b.checkSource(name, np, nm); err != nil {
		return err
	}
	for _, v := range []float64{p.Delay, p.Rise, p.Fall, p.Width, p.Period} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s pulse timing must be non-negative", ErrInvalidValue, name)
		}
	}
	b.add(device.NewPulseVoltageSource(name, []string{np, nm},
		p.Initial, p.Pulsed, p.Delay, p.Rise, p.Fall, p.Width, p.Period), np, nm)
	return nil
}

// AddBehavioralCurrent adds a source whose branch current is the expression.
func (b *Builder) AddBehavioralCurrent(name, np, nm, expression string) error {
	return b.addBehavioral(name, np, nm, device.CurrentMode, expression)
}

// AddBehavioralVoltage adds a source whose branch voltage is the expression.
func (b *Builder) AddBehavioralVoltage(name, np, nm, expression string) error {
	return b.addBehavioral(name, np, nm, device.VoltageMode, expression)
}

func (b *Builder) addBehavioral(name, np, nm string, mode device.BehavioralMode, expression string) error {
	if err := b.checkSource(name, np, nm); err != nil {
		return err
	}
	tree, err := expr.Parse(expression, b.params)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	b.add(device.NewBehavioral(name, []string{np, nm}, mode, tree), np, nm)
	return nil
}

func (b *Builder) checkSource(name, np, nm string) error {
	if err := b.check(name); err != nil {
		return err
	}
	return b.notShorted(name, np, nm)
}

// Finalize assigns unknown indices, resolves every reference and checks the
// system is structurally solvable. The Builder cannot be used afterwards.
func (b *Builder) Finalize() (*Circuit, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	if len(b.devices) == 0 {
		return nil, &simerr.SingularSystemError{Msg: "circuit has no elements"}
	}

	c := &Circuit{
		name:     b.name,
		nodeMap:  b.nodeMap,
		nodes:    b.nodes,
		devices:  b.devices,
		byName:   b.byName,
		params:   b.Params(),
		currents: make(map[string]int),
		aliases:  make(map[string]int),
	}
	c.assignIndices()

	if err := c.bindMutuals(); err != nil {
		return nil, err
	}
	if err := c.resolveReferences(); err != nil {
		return nil, err
	}
	if err := c.checkStructure(); err != nil {
		return nil, err
	}

	b.finalized = true
	return c, nil
}
