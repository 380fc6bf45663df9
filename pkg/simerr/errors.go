// Package simerr holds the error types shared by the expression engine, the
// network model and the transient driver. Match them with errors.As.
package simerr

import (
	"fmt"
)

// ParseError reports malformed expression or netlist text.
type ParseError struct {
	Text string // Offending input
	Pos  int    // Byte offset, -1 when unknown
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("parse error: %s in %q", e.Msg, e.Text)
	}
	return fmt.Sprintf("parse error at offset %d: %s in %q", e.Pos, e.Msg, e.Text)
}

// UnknownReferenceError reports a name that does not resolve to exactly one
// element, node or series.
type UnknownReferenceError struct {
	Kind  string // "I", "V", "param", "series", "ic"
	Name  string
	Where string // Element or context that made the reference
}

func (e *UnknownReferenceError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("unknown reference %s(%s)", e.Kind, e.Name)
	}
	return fmt.Sprintf("unknown reference %s(%s) in %s", e.Kind, e.Name, e.Where)
}

// SingularExpressionError reports a division by a (near-)zero denominator or
// a non-finite expression value.
type SingularExpressionError struct {
	Expr  string
	Value float64 // Denominator or offending value
}

func (e *SingularExpressionError) Error() string {
	return fmt.Sprintf("singular expression %q: denominator %g", e.Expr, e.Value)
}

// SingularSystemError reports a non-square or structurally degenerate system.
type SingularSystemError struct {
	Equations int
	Unknowns  int
	Unknown   string // Offending unknown, if known
	Msg       string
}

func (e *SingularSystemError) Error() string {
	msg := fmt.Sprintf("singular system (%d equations, %d unknowns)", e.Equations, e.Unknowns)
	if e.Unknown != "" {
		msg += fmt.Sprintf(" at %s", e.Unknown)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

// ConvergenceError reports a Newton solve that did not converge.
type ConvergenceError struct {
	Time       float64
	Step       float64
	Iterations int
	Residual   float64
	Cause      error
}

func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("no convergence at t=%g (dt=%g) after %d iterations, residual %g",
		e.Time, e.Step, e.Iterations, e.Residual)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConvergenceError) Unwrap() error { return e.Cause }

// InvalidInitialConditionError reports initial conditions that contradict the
// algebraic constraints at t=0.
type InvalidInitialConditionError struct {
	Name  string
	Value float64
	Want  float64
	Cause error
}

func (e *InvalidInitialConditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid initial conditions: %v", e.Cause)
	}
	return fmt.Sprintf("invalid initial condition %s=%g, t=0 constraint gives %g", e.Name, e.Value, e.Want)
}

func (e *InvalidInitialConditionError) Unwrap() error { return e.Cause }
