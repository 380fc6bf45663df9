package expr

import (
	"strconv"
	"strings"
)

type Node interface {
	eval(ev *evaluator) (Value, error)
	write(sb *strings.Builder)
}

type numNode struct {
	val   float64
	label string // Parameter name the literal came from
}

type timeNode struct{}

type refNode struct {
	kind  byte // 'I' or 'V'
	name  string
	name2 string // V(a,b)
}

type unaryNode struct {
	op byte
	x  Node
}

type binaryNode struct {
	op   string
	l, r Node
}

type callNode struct {
	fn   string
	args []Node
}

// auxNode is idt() or ddt(). Its value is an auxiliary unknown owned by the
// enclosing element, identified by ordinal (pre-order within the tree).
type auxNode struct {
	kind    AuxKind
	ordinal int
	x       Node
}

func (n *numNode) write(sb *strings.Builder) {
	if n.label != "" {
		sb.WriteString("{" + n.label + "}")
		return
	}
	sb.WriteString(strconv.FormatFloat(n.val, 'g', -1, 64))
}

func (n *timeNode) write(sb *strings.Builder) { sb.WriteString("time") }

func (n *refNode) write(sb *strings.Builder) {
	sb.WriteByte(n.kind)
	sb.WriteByte('(')
	sb.WriteString(n.name)
	if n.name2 != "" {
		sb.WriteByte(',')
		sb.WriteString(n.name2)
	}
	sb.WriteByte(')')
}

func (n *unaryNode) write(sb *strings.Builder) {
	sb.WriteByte(n.op)
	n.x.write(sb)
}

func (n *binaryNode) write(sb *strings.Builder) {
	sb.WriteByte('(')
	n.l.write(sb)
	sb.WriteString(n.op)
	n.r.write(sb)
	sb.WriteByte(')')
}

func (n *callNode) write(sb *strings.Builder) {
	sb.WriteString(n.fn)
	sb.WriteByte('(')
	for i, a := range n.args {
		if i > 0 {
			sb.WriteByte(',')
		}
		a.write(sb)
	}
	sb.WriteByte(')')
}

func (n *auxNode) write(sb *strings.Builder) {
	sb.WriteString(n.kind.String())
	sb.WriteByte('(')
	n.x.write(sb)
	sb.WriteByte(')')
}

type AuxKind int

const (
	AuxIntegral AuxKind = iota
	AuxDerivative
)

func (k AuxKind) String() string {
	if k == AuxDerivative {
		return "ddt"
	}
	return "idt"
}

// Aux describes one auxiliary state of a tree.
type Aux struct {
	Kind    AuxKind
	Ordinal int
	IC      float64 // idt initial value
}

// Reference is a static I()/V() reference found in a tree.
type Reference struct {
	Kind  byte
	Name  string
	Name2 string
}

func (r Reference) String() string {
	if r.Name2 != "" {
		return string(r.Kind) + "(" + r.Name + "," + r.Name2 + ")"
	}
	return string(r.Kind) + "(" + r.Name + ")"
}

// Tree is an immutable parsed expression.
type Tree struct {
	text string
	root Node
	aux  []Aux
	// inputs[k] is the argument of aux state k
	inputs []Node
	refs   []Reference
}

// Text returns the source text the tree was parsed from.
func (t *Tree) Text() string { return t.text }

// String returns a canonical fully parenthesized form.
func (t *Tree) String() string {
	var sb strings.Builder
	t.root.write(&sb)
	return sb.String()
}

// Aux returns the auxiliary states in ordinal order.
func (t *Tree) Aux() []Aux {
	out := make([]Aux, len(t.aux))
	copy(out, t.aux)
	return out
}

// References returns the distinct I()/V() references in order of appearance.
func (t *Tree) References() []Reference {
	out := make([]Reference, len(t.refs))
	copy(out, t.refs)
	return out
}

// UsesTime reports whether the expression reads the simulation time.
func (t *Tree) UsesTime() bool {
	return usesTime(t.root)
}

func usesTime(n Node) bool {
	switch n := n.(type) {
	case *timeNode:
		return true
	case *unaryNode:
		return usesTime(n.x)
	case *binaryNode:
		return usesTime(n.l) || usesTime(n.r)
	case *callNode:
		for _, a := range n.args {
			if usesTime(a) {
				return true
			}
		}
	case *auxNode:
		return usesTime(n.x)
	}
	return false
}
