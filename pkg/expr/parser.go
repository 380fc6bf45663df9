package expr

import (
	"math"
	"strconv"
	"strings"
)

// Function arity, -1 means two or more.
var builtins = map[string]int{
	"abs":   1,
	"sqrt":  1,
	"exp":   1,
	"ln":    1,
	"log":   1,
	"log10": 1,
	"sgn":   1,
	"min":   -1,
	"max":   -1,
	"pow":   2,
	"limit": 3,
	"if":    3,
}

type parser struct {
	lx     lexer
	tok    token
	params map[string]float64
	tree   *Tree
}

// Parse parses a behavioral formula. Bare identifiers and {name} are looked up
// in params once, here. I() and V() references stay symbolic and are resolved
// by the Env at evaluation time.
func Parse(text string, params map[string]float64) (*Tree, error) {
	p := &parser{
		lx:     lexer{src: text},
		params: params,
		tree:   &Tree{text: text},
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, p.lx.errorf(0, "empty expression")
	}

	root, err := p.comparison()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lx.errorf(p.tok.pos, "unexpected "+strconv.Quote(p.tok.text))
	}
	p.tree.root = root
	return p.tree, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string, params map[string]float64) *Tree {
	t, err := Parse(text, params)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *parser) advance() error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		if p.tok.kind == tokEOF {
			return p.lx.errorf(p.tok.pos, "missing "+what)
		}
		return p.lx.errorf(p.tok.pos, "expected "+what+", got "+strconv.Quote(p.tok.text))
	}
	return p.advance()
}

func isCompare(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

func (p *parser) comparison() (Node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && isCompare(p.tok.text) {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) additive() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) unary() (Node, error) {
	if p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == '+' {
			return x, nil
		}
		return &unaryNode{op: '-', x: x}, nil
	}
	return p.power()
}

// power is right associative and binds tighter than a leading minus:
// -2^2 is -(2^2), 2^-1 is 2^(-1).
func (p *parser) power() (Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text == "^" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "^", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) primary() (Node, error) {
	tok := p.tok
	switch tok.kind {
	case tokNum:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &numNode{val: tok.num}, nil

	case tokLParen, tokLBrace:
		closing, what := tokRParen, "')'"
		if tok.kind == tokLBrace {
			closing, what = tokRBrace, "'}'"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.comparison()
		if err != nil {
			return nil, err
		}
		if err := p.expect(closing, what); err != nil {
			return nil, err
		}
		return x, nil

	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.identifier(tok)

	case tokEOF:
		return nil, p.lx.errorf(tok.pos, "unexpected end of expression")
	}
	return nil, p.lx.errorf(tok.pos, "unexpected "+strconv.Quote(tok.text))
}

func (p *parser) identifier(tok token) (Node, error) {
	name := tok.text
	lower := strings.ToLower(name)

	if p.tok.kind != tokLParen {
		if lower == "time" {
			return &timeNode{}, nil
		}
		if v, ok := p.params[name]; ok {
			return &numNode{val: v, label: name}, nil
		}
		if lower == "pi" {
			return &numNode{val: math.Pi}, nil
		}
		return nil, p.lx.errorf(tok.pos, "unknown parameter "+strconv.Quote(name))
	}

	switch lower {
	case "i", "v":
		return p.reference(lower[0])
	case "idt", "ddt":
		return p.auxiliary(tok, lower)
	}

	arity, ok := builtins[lower]
	if !ok {
		return nil, p.lx.errorf(tok.pos, "unknown function "+strconv.Quote(name))
	}
	args, err := p.arguments()
	if err != nil {
		return nil, err
	}
	if (arity < 0 && len(args) < 2) || (arity > 0 && len(args) != arity) {
		return nil, p.lx.errorf(tok.pos, "wrong number of arguments to "+lower)
	}
	return &callNode{fn: lower, args: args}, nil
}

// reference handles I(name), V(node) and V(a,b). The current token is the
// opening parenthesis, so the lexer sits right after it.
func (p *parser) reference(kind byte) (Node, error) {
	names, pos, err := p.lx.raw()
	if err != nil {
		return nil, err
	}
	switch {
	case kind == 'i' && len(names) != 1:
		return nil, p.lx.errorf(pos, "I() takes one name")
	case kind == 'v' && len(names) > 2:
		return nil, p.lx.errorf(pos, "V() takes one or two nodes")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	ref := &refNode{kind: 'I', name: names[0]}
	if kind == 'v' {
		ref.kind = 'V'
		if len(names) == 2 {
			ref.name2 = names[1]
		}
	}
	p.addRef(Reference{Kind: ref.kind, Name: ref.name})
	if ref.name2 != "" {
		p.addRef(Reference{Kind: 'V', Name: ref.name2})
	}
	return ref, nil
}

func (p *parser) addRef(r Reference) {
	for _, have := range p.tree.refs {
		if have == r {
			return
		}
	}
	p.tree.refs = append(p.tree.refs, r)
}

func (p *parser) auxiliary(tok token, fn string) (Node, error) {
	kind := AuxIntegral
	if fn == "ddt" {
		kind = AuxDerivative
	}
	// Reserve the ordinal before the argument so nesting numbers pre-order.
	ord := len(p.tree.aux)
	p.tree.aux = append(p.tree.aux, Aux{Kind: kind, Ordinal: ord})
	p.tree.inputs = append(p.tree.inputs, nil)

	args, err := p.arguments()
	if err != nil {
		return nil, err
	}
	switch {
	case len(args) == 0:
		return nil, p.lx.errorf(tok.pos, fn+"() needs an argument")
	case kind == AuxDerivative && len(args) != 1:
		return nil, p.lx.errorf(tok.pos, "ddt() takes one argument")
	case len(args) > 2:
		return nil, p.lx.errorf(tok.pos, "idt() takes at most two arguments")
	}
	if len(args) == 2 {
		ic, ok := constant(args[1])
		if !ok {
			return nil, p.lx.errorf(tok.pos, "idt() initial value must be constant")
		}
		p.tree.aux[ord].IC = ic
	}
	p.tree.inputs[ord] = args[0]
	return &auxNode{kind: kind, ordinal: ord, x: args[0]}, nil
}

func (p *parser) arguments() ([]Node, error) {
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Node
	if p.tok.kind == tokRParen {
		return args, p.advance()
	}
	for {
		a, err := p.comparison()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

// constant folds a subtree that depends on nothing but literals.
func constant(n Node) (float64, bool) {
	if !isStatic(n) {
		return 0, false
	}
	ev := &evaluator{pol: DefaultPolicy, tree: &Tree{}}
	v, err := ev.node(n)
	if err != nil {
		return 0, false
	}
	return v.Val, true
}

func isStatic(n Node) bool {
	switch n := n.(type) {
	case *numNode:
		return true
	case *unaryNode:
		return isStatic(n.x)
	case *binaryNode:
		return isStatic(n.l) && isStatic(n.r)
	case *callNode:
		for _, a := range n.args {
			if !isStatic(a) {
				return false
			}
		}
		return true
	}
	return false
}

// Constant returns the value of a tree that references no unknowns and no
// time, as used for .param definitions.
func (t *Tree) Constant() (float64, bool) {
	return constant(t.root)
}
