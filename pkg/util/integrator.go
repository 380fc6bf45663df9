package util

import (
	"fmt"
	"strings"
)

// Scheme is the implicit rule used for every differential quantity.
type Scheme int

// The zero Scheme is trapezoidal.
const (
	Trapezoidal Scheme = iota
	BackwardEuler
)

func (s Scheme) String() string {
	switch s {
	case BackwardEuler:
		return "backward_euler"
	case Trapezoidal:
		return "trapezoidal"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// ParseScheme accepts the names used in run files and netlist .options.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "be", "euler", "backward_euler", "backward-euler", "gear":
		return BackwardEuler, nil
	case "", "tr", "trap", "trapezoidal":
		return Trapezoidal, nil
	}
	return 0, fmt.Errorf("unknown integration scheme %q", name)
}

func (s Scheme) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scheme) UnmarshalText(text []byte) error {
	v, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Coefficients returns a0 and b such that the derivative at the new point is
//
//	x'_n = a0*(x_n - x_{n-1}) - b*x'_{n-1}
//
// Backward Euler: a0 = 1/dt, b = 0. Trapezoidal: a0 = 2/dt, b = 1.
func Coefficients(s Scheme, dt float64) (a0, b float64) {
	if s == Trapezoidal {
		return 2.0 / dt, 1.0
	}
	return 1.0 / dt, 0.0
}

// Order is the accuracy order of the scheme.
func (s Scheme) Order() int {
	if s == Trapezoidal {
		return 2
	}
	return 1
}
