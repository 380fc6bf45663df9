package expr

import (
	"strconv"
	"strings"

	"github.com/snietofennis/BEP-code/pkg/simerr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// Scale factors accepted after a numeric literal. Letters after the scale
// factor are units and ignored ("10uF", "1ns").
var scaleSuffix = []struct {
	prefix string
	factor float64
}{
	{"meg", 1e6},
	{"mil", 25.4e-6},
	{"t", 1e12},
	{"g", 1e9},
	{"k", 1e3},
	{"m", 1e-3},
	{"u", 1e-6},
	{"n", 1e-9},
	{"p", 1e-12},
	{"f", 1e-15},
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, msg string) error {
	return &simerr.ParseError{Text: l.src, Pos: pos, Msg: msg}
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	switch {
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number()
	case isLetter(c):
		for l.pos < len(l.src) && (isLetter(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}

	l.pos++
	switch c {
	case '(':
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '{':
		return token{kind: tokLBrace, text: "{", pos: start}, nil
	case '}':
		return token{kind: tokRBrace, text: "}", pos: start}, nil
	case ',':
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '+', '-', '/', '^':
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case '*':
		if l.pos < len(l.src) && l.src[l.pos] == '*' {
			l.pos++
			return token{kind: tokOp, text: "^", pos: start}, nil
		}
		return token{kind: tokOp, text: "*", pos: start}, nil
	case '<', '>', '=', '!':
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
		}
		if c == '<' || c == '>' {
			return token{kind: tokOp, text: string(c), pos: start}, nil
		}
	}
	return token{}, l.errorf(start, "unexpected character "+strconv.QuoteRune(rune(c)))
}

func (l *lexer) number() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	// Exponent only when followed by digits, "2e" alone is not a number.
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		p := l.pos + 1
		if p < len(l.src) && (l.src[p] == '+' || l.src[p] == '-') {
			p++
		}
		if p < len(l.src) && isDigit(l.src[p]) {
			for p < len(l.src) && isDigit(l.src[p]) {
				p++
			}
			l.pos = p
		}
	}
	text := l.src[start:l.pos]
	if l.pos < len(l.src) && (l.src[l.pos] == '.' || isDigit(l.src[l.pos])) {
		return token{}, l.errorf(l.pos, "malformed number "+strconv.Quote(text+string(l.src[l.pos])))
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, l.errorf(start, "malformed number "+strconv.Quote(text))
	}

	suffixStart := l.pos
	for l.pos < len(l.src) && isLetter(l.src[l.pos]) {
		l.pos++
	}
	if suffix := strings.ToLower(l.src[suffixStart:l.pos]); suffix != "" {
		for _, s := range scaleSuffix {
			if strings.HasPrefix(suffix, s.prefix) {
				v *= s.factor
				break
			}
		}
	}
	return token{kind: tokNum, text: l.src[start:l.pos], num: v, pos: start}, nil
}

// raw reads a reference argument list up to the closing parenthesis. Names
// may contain characters that are operators elsewhere ("Loan-to-Deposit").
func (l *lexer) raw() ([]string, int, error) {
	start := l.pos
	end := strings.IndexByte(l.src[l.pos:], ')')
	if end < 0 {
		return nil, start, l.errorf(start, "missing ')' after reference")
	}
	body := l.src[l.pos : l.pos+end]
	l.pos += end + 1

	parts := strings.Split(body, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" || strings.ContainsAny(parts[i], "( \t") {
			return nil, start, l.errorf(start, "invalid reference name "+strconv.Quote(p))
		}
	}
	return parts, start, nil
}
