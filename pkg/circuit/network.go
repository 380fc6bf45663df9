package circuit

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// UnknownKind classifies an entry of the unknown vector.
type UnknownKind int

const (
	NodeVoltage UnknownKind = iota
	BranchCurrent
	AuxState
)

// Circuit is a finalized, read-only network. Unknowns are numbered from 1:
// node voltages in declaration order, then one branch current per
// two-terminal element in element order, then idt()/ddt() states.
type Circuit struct {
	name    string
	params  map[string]float64
	nodeMap map[string]int
	nodes   []string
	devices []device.Device
	byName  map[string]device.Device

	currents map[string]int // element name -> branch unknown
	aliases  map[string]int // SPICE prefixed name -> branch unknown

	unknownNames []string // 1-based
	unknownIndex map[string]int
	kinds        []UnknownKind
	owners       []device.Device
	numSlots     int
}

func (c *Circuit) assignIndices() {
	c.unknownNames = []string{"0"}
	c.kinds = []UnknownKind{NodeVoltage}
	c.owners = []device.Device{nil}
	push := func(name string, kind UnknownKind, owner device.Device) int {
		c.unknownNames = append(c.unknownNames, name)
		c.kinds = append(c.kinds, kind)
		c.owners = append(c.owners, owner)
		return len(c.unknownNames) - 1
	}

	for _, n := range c.nodes {
		push("V("+n+")", NodeVoltage, nil)
	}

	for _, dev := range c.devices {
		br, ok := dev.(device.Branched)
		if !ok {
			continue
		}
		idx := push("I("+dev.GetName()+")", BranchCurrent, dev)
		br.SetBranchIndex(idx)
		c.currents[dev.GetName()] = idx
	}
	// Aliases never shadow a real element name.
	for _, dev := range c.devices {
		idx, ok := c.currents[dev.GetName()]
		if !ok {
			continue
		}
		letter := dev.GetType()
		for _, alias := range []string{letter + dev.GetName(), strings.ToLower(letter) + dev.GetName()} {
			if _, exact := c.currents[alias]; !exact {
				c.aliases[alias] = idx
			}
		}
	}

	for _, dev := range c.devices {
		b, ok := dev.(*device.Behavioral)
		if !ok {
			continue
		}
		for k := range b.Aux() {
			b.SetAuxIndex(k, push(b.AuxName(k), AuxState, dev))
		}
	}

	slot := 0
	for _, dev := range c.devices {
		if td, ok := dev.(device.TimeDependent); ok {
			slot = td.SetSlots(slot)
		}
	}
	c.numSlots = slot

	c.unknownIndex = make(map[string]int, len(c.unknownNames))
	for i, name := range c.unknownNames[1:] {
		c.unknownIndex[name] = i + 1
	}
}

func (c *Circuit) bindMutuals() error {
	for _, dev := range c.devices {
		m, ok := dev.(*device.Mutual)
		if !ok {
			continue
		}
		for i, name := range m.GetInductorNames() {
			ind, err := c.inductor(name)
			if err != nil {
				return fmt.Errorf("coupling %s: %w", m.GetName(), err)
			}
			if err := m.SetInductor(i, ind); err != nil {
				return err
			}
		}
		inds := m.GetInductors()
		if inds[0] == inds[1] {
			return fmt.Errorf("%w: coupling %s couples %s to itself", ErrInvalidValue, m.GetName(), inds[0].GetName())
		}
	}
	return nil
}

func (c *Circuit) inductor(name string) (*device.Inductor, error) {
	dev, ok := c.byName[name]
	if !ok && len(name) > 1 && strings.EqualFold(name[:1], "L") {
		dev, ok = c.byName[name[1:]]
	}
	if !ok {
		return nil, &simerr.UnknownReferenceError{Kind: "L", Name: name}
	}
	ind, ok := dev.(*device.Inductor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s, not an inductor", ErrInvalidValue, name, dev.GetType())
	}
	return ind, nil
}

func (c *Circuit) resolveReferences() error {
	for _, dev := range c.devices {
		b, ok := dev.(*device.Behavioral)
		if !ok {
			continue
		}
		for _, ref := range b.Expression().References() {
			var err error
			if ref.Kind == 'I' {
				_, err = c.CurrentIndex(ref.Name)
			} else {
				_, err = c.VoltageIndex(ref.Name)
				if err == nil && ref.Name2 != "" {
					_, err = c.VoltageIndex(ref.Name2)
				}
			}
			if err != nil {
				var uerr *simerr.UnknownReferenceError
				if errors.As(err, &uerr) {
					uerr.Where = b.GetName()
				}
				return err
			}
		}
	}
	return nil
}

// CurrentIndex resolves I(name): the element itself, or failing that a SPICE
// prefixed name such as BLoan_Balance for the B element Loan_Balance.
func (c *Circuit) CurrentIndex(name string) (int, error) {
	if idx, ok := c.currents[name]; ok {
		return idx, nil
	}
	if idx, ok := c.aliases[name]; ok {
		return idx, nil
	}
	return 0, &simerr.UnknownReferenceError{Kind: "I", Name: name}
}

// VoltageIndex resolves V(node). Ground is index 0.
func (c *Circuit) VoltageIndex(node string) (int, error) {
	if isGround(node) {
		return 0, nil
	}
	if idx, ok := c.nodeMap[node]; ok {
		return idx, nil
	}
	return 0, &simerr.UnknownReferenceError{Kind: "V", Name: node}
}

// LookupUnknown resolves a result or initial-condition name: V(node),
// I(element), idt(element#k), ddt(element#k), or a bare element or node name.
func (c *Circuit) LookupUnknown(name string) (int, error) {
	if idx, ok := c.unknownIndex[name]; ok {
		return idx, nil
	}
	if inner, ok := strings.CutPrefix(name, "I("); ok && strings.HasSuffix(inner, ")") {
		return c.CurrentIndex(strings.TrimSuffix(inner, ")"))
	}
	if inner, ok := strings.CutPrefix(name, "V("); ok && strings.HasSuffix(inner, ")") {
		idx, err := c.VoltageIndex(strings.TrimSuffix(inner, ")"))
		if err == nil && idx == 0 {
			return 0, &simerr.UnknownReferenceError{Kind: "V", Name: name, Where: "ground is not an unknown"}
		}
		return idx, err
	}
	if idx, err := c.CurrentIndex(name); err == nil {
		return idx, nil
	}
	if idx, ok := c.nodeMap[name]; ok {
		return idx, nil
	}
	return 0, &simerr.UnknownReferenceError{Kind: "unknown", Name: name}
}

func (c *Circuit) Name() string { return c.name }

// Size is the number of unknowns.
func (c *Circuit) Size() int { return len(c.unknownNames) - 1 }

func (c *Circuit) NumNodes() int { return len(c.nodes) }

func (c *Circuit) NumSlots() int { return c.numSlots }

func (c *Circuit) GetDevices() []device.Device { return c.devices }

func (c *Circuit) Device(name string) (device.Device, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Nodes returns node names in declaration order.
func (c *Circuit) Nodes() []string {
	return append([]string(nil), c.nodes...)
}

func (c *Circuit) GetNodeMap() map[string]int {
	out := make(map[string]int, len(c.nodeMap))
	for k, v := range c.nodeMap {
		out[k] = v
	}
	return out
}

func (c *Circuit) Params() map[string]float64 {
	out := make(map[string]float64, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// UnknownName returns the result series name of unknown i.
func (c *Circuit) UnknownName(i int) string { return c.unknownNames[i] }

// UnknownNames returns the names of unknowns 1..Size in index order.
func (c *Circuit) UnknownNames() []string {
	return append([]string(nil), c.unknownNames[1:]...)
}

func (c *Circuit) Kind(i int) UnknownKind { return c.kinds[i] }

// Owner returns the element owning a branch current or auxiliary state.
func (c *Circuit) Owner(i int) device.Device { return c.owners[i] }

// Pinnable reports whether an initial condition on unknown i replaces its
// own row at t=0: node voltages, inductor currents and idt() states. Any
// other unknown is algebraic at t=0 and its initial condition is checked
// against the solved operating point instead.
func (c *Circuit) Pinnable(i int) bool {
	switch c.kinds[i] {
	case NodeVoltage:
		return true
	case BranchCurrent:
		_, ok := c.owners[i].(*device.Inductor)
		return ok
	case AuxState:
		b := c.owners[i].(*device.Behavioral)
		for k, a := range b.Aux() {
			if b.AuxIndex(k) == i {
				return a.Kind == expr.AuxIntegral
			}
		}
	}
	return false
}

// Breakpoints merges the source breakpoints in (0, stop].
func (c *Circuit) Breakpoints(stop float64) []float64 {
	var out []float64
	for _, dev := range c.devices {
		if bp, ok := dev.(device.Breakpointer); ok {
			out = append(out, bp.Breakpoints(stop)...)
		}
	}
	sort.Float64s(out)
	var uniq []float64
	for _, t := range out {
		if len(uniq) == 0 || t != uniq[len(uniq)-1] {
			uniq = append(uniq, t)
		}
	}
	return uniq
}
