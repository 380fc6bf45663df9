package circuit

import (
	"fmt"
	"sort"

	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// Pattern returns, per row, the columns the transient Jacobian can touch.
func (c *Circuit) Pattern() [][]int {
	n := c.Size()
	cols := make([]map[int]bool, n+1)
	for i := range cols {
		cols[i] = make(map[int]bool)
	}
	add := func(i, j int) {
		if i > 0 && j > 0 {
			cols[i][j] = true
		}
	}
	kcl := func(nodes []int, b int) {
		add(nodes[0], b)
		add(nodes[1], b)
	}
	volt := func(row int, nodes []int) {
		add(row, nodes[0])
		add(row, nodes[1])
	}

	for _, dev := range c.devices {
		nodes := dev.GetNodes()
		switch d := dev.(type) {
		case *device.Resistor:
			kcl(nodes, d.BranchIndex())
			volt(d.BranchIndex(), nodes)
			add(d.BranchIndex(), d.BranchIndex())
		case *device.Capacitor:
			kcl(nodes, d.BranchIndex())
			volt(d.BranchIndex(), nodes)
			add(d.BranchIndex(), d.BranchIndex())
		case *device.Inductor:
			kcl(nodes, d.BranchIndex())
			volt(d.BranchIndex(), nodes)
			add(d.BranchIndex(), d.BranchIndex())
		case *device.Mutual:
			l1, l2 := d.GetInductors()[0], d.GetInductors()[1]
			add(l1.BranchIndex(), l2.BranchIndex())
			add(l2.BranchIndex(), l1.BranchIndex())
		case *device.VoltageSource:
			if d.Detached() {
				add(d.BranchIndex(), d.BranchIndex())
				continue
			}
			kcl(nodes, d.BranchIndex())
			volt(d.BranchIndex(), nodes)
		case *device.Behavioral:
			row := d.BranchIndex()
			kcl(nodes, row)
			if d.Detached() || d.Mode() == device.CurrentMode {
				add(row, row)
			} else {
				volt(row, nodes)
			}
			deps := c.dependencies(d)
			for _, j := range deps {
				add(row, j)
			}
			for k := range d.Aux() {
				aux := d.AuxIndex(k)
				add(aux, aux)
				for _, j := range deps {
					add(aux, j)
				}
			}
		}
	}

	out := make([][]int, n+1)
	for i := 1; i <= n; i++ {
		for j := range cols[i] {
			out[i] = append(out[i], j)
		}
		sort.Ints(out[i])
	}
	return out
}

// dependencies lists the unknowns an expression can have partials for.
func (c *Circuit) dependencies(b *device.Behavioral) []int {
	var deps []int
	for _, ref := range b.Expression().References() {
		if ref.Kind == 'I' {
			idx, _ := c.CurrentIndex(ref.Name)
			deps = append(deps, idx)
			continue
		}
		for _, node := range []string{ref.Name, ref.Name2} {
			if node != "" {
				idx, _ := c.VoltageIndex(node)
				deps = append(deps, idx)
			}
		}
	}
	for k := range b.Aux() {
		deps = append(deps, b.AuxIndex(k))
	}
	return deps
}

// checkStructure finds a perfect row/column matching of the Jacobian
// pattern. Without one the matrix is singular for every value.
func (c *Circuit) checkStructure() error {
	n := c.Size()
	pattern := c.Pattern()

	matchCol := make([]int, n+1) // column -> row
	var visited []bool
	var augment func(row int) bool
	augment = func(row int) bool {
		for _, col := range pattern[row] {
			if visited[col] {
				continue
			}
			visited[col] = true
			if matchCol[col] == 0 || augment(matchCol[col]) {
				matchCol[col] = row
				return true
			}
		}
		return false
	}

	matched := 0
	for row := 1; row <= n; row++ {
		visited = make([]bool, n+1)
		if augment(row) {
			matched++
		}
	}
	if matched == n {
		return nil
	}

	unknown := ""
	for col := 1; col <= n; col++ {
		if matchCol[col] == 0 {
			unknown = c.unknownNames[col]
			break
		}
	}
	return &simerr.SingularSystemError{
		Equations: n,
		Unknowns:  n,
		Unknown:   unknown,
		Msg:       fmt.Sprintf("structural rank %d", matched),
	}
}

// forest is a union-find over node indices, 0 being ground.
type forest []int

func newForest(n int) forest {
	f := make(forest, n)
	for i := range f {
		f[i] = i
	}
	return f
}

func (f forest) find(i int) int {
	for f[i] != i {
		f[i] = f[f[i]]
		i = f[i]
	}
	return i
}

// union joins the sets of a and b and reports whether they were apart.
func (f forest) union(a, b int) bool {
	ra, rb := f.find(a), f.find(b)
	if ra == rb {
		return false
	}
	f[ra] = rb
	return true
}

// StartHolds marks, by branch unknown, the capacitors and inductors the t=0
// solve fixes at their initial condition: those with an explicit IC and,
// with uic, every other one at zero. pinned lists unknowns whose own rows
// are replaced at t=0.
//
// Held capacitors must not close a loop of voltage constraints and held
// inductors must not cut a node off from every free current path, or the
// system is singular. An element that would do so is released and solved
// for instead. Elements without an explicit IC are released first.
func (c *Circuit) StartHolds(uic bool, pinned []int) []bool {
	held := make([]bool, c.Size()+1)
	isPinned := make(map[int]bool, len(pinned))
	for _, i := range pinned {
		isPinned[i] = true
	}
	explicit := func(dev device.Device) bool {
		switch d := dev.(type) {
		case *device.Capacitor:
			_, ok := d.IC()
			return ok
		case *device.Inductor:
			_, ok := d.IC()
			return ok || isPinned[d.BranchIndex()]
		}
		return false
	}
	voltageSource := func(dev device.Device) bool {
		switch d := dev.(type) {
		case *device.VoltageSource:
			return true
		case *device.Behavioral:
			return d.Mode() == device.VoltageMode
		}
		return false
	}

	// Inductors: a held one must close a loop of elements that pass free
	// current, or KCL fixes its current.
	var inductors []*device.Inductor
	cut := newForest(len(c.nodes) + 1)
	for _, dev := range c.devices {
		nodes := dev.GetNodes()
		switch d := dev.(type) {
		case *device.Inductor:
			if uic || explicit(d) {
				inductors = append(inductors, d)
				continue
			}
			cut.union(nodes[0], nodes[1])
		case *device.Resistor, *device.Capacitor:
			cut.union(nodes[0], nodes[1])
		default:
			if voltageSource(dev) {
				cut.union(nodes[0], nodes[1])
			}
		}
	}
	sort.SliceStable(inductors, func(i, j int) bool {
		return !explicit(inductors[i]) && explicit(inductors[j])
	})
	for _, l := range inductors {
		nodes := l.GetNodes()
		if !isPinned[l.BranchIndex()] && cut.union(nodes[0], nodes[1]) {
			continue
		}
		held[l.BranchIndex()] = true
	}

	// Capacitors: a held one must not close a loop of voltage constraints.
	// Released inductors are shorts at t=0.
	loop := newForest(len(c.nodes) + 1)
	for _, i := range pinned {
		if c.kinds[i] == NodeVoltage {
			loop.union(i, 0)
		}
	}
	var capacitors []*device.Capacitor
	for _, dev := range c.devices {
		nodes := dev.GetNodes()
		switch d := dev.(type) {
		case *device.Capacitor:
			if uic || explicit(d) {
				capacitors = append(capacitors, d)
			}
		case *device.Inductor:
			if !held[d.BranchIndex()] {
				loop.union(nodes[0], nodes[1])
			}
		default:
			if voltageSource(dev) {
				loop.union(nodes[0], nodes[1])
			}
		}
	}
	sort.SliceStable(capacitors, func(i, j int) bool {
		return explicit(capacitors[i]) && !explicit(capacitors[j])
	})
	for _, cp := range capacitors {
		nodes := cp.GetNodes()
		if loop.union(nodes[0], nodes[1]) {
			held[cp.BranchIndex()] = true
		}
	}
	return held
}
