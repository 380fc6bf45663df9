package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// Newton solves F(x) = 0 for one time point.
type Newton struct {
	asm     *Assembler
	sys     matrix.System
	tol     float64
	reltol  float64
	maxIter int
	rhs     []float64
}

func NewNewton(asm *Assembler, sys matrix.System, cfg Config) *Newton {
	return &Newton{
		asm:     asm,
		sys:     sys,
		tol:     cfg.NewtonTol,
		reltol:  cfg.RelTol,
		maxIter: cfg.NewtonMaxIter,
		rhs:     make([]float64, sys.Size()+1),
	}
}

// Solve iterates J*dx = -F from status.X, updating it in place, and returns
// the iteration count. It converges when every residual row is within
// tol + reltol times the magnitude of its terms and every update is within
// tol + reltol*|x|. Every behavioral row is evaluated at the same iterate,
// so cyclic references are solved together.
func (n *Newton) Solve(ctx context.Context, status *device.CircuitStatus) (int, error) {
	x := status.X
	var resid float64

	for iter := 1; iter <= n.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return iter - 1, err
		}

		f, err := n.asm.Load(status)
		if err != nil {
			return iter, err
		}
		resid = floats.Norm(f[1:], math.Inf(1))
		if math.IsNaN(resid) || math.IsInf(resid, 0) {
			return iter, n.fail(status, iter, resid, errors.New("non-finite residual"))
		}

		for i := 1; i < len(f); i++ {
			n.rhs[i] = -f[i]
		}
		dx, err := n.sys.Solve(n.rhs)
		if err != nil {
			if errors.Is(err, matrix.ErrSingular) {
				return iter, &simerr.SingularSystemError{
					Equations: n.sys.Size(),
					Unknowns:  n.sys.Size(),
					Msg:       fmt.Sprintf("factorization failed at t=%g: %v", status.Time, err),
				}
			}
			return iter, err
		}

		converged := true
		scale := n.asm.Scale()
		for i := 1; i < len(f); i++ {
			if math.Abs(f[i]) > n.tol+n.reltol*scale[i] {
				converged = false
				break
			}
		}
		for i := 1; i < len(x); i++ {
			d := dx[i]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return iter, n.fail(status, iter, resid, errors.New("non-finite update"))
			}
			if math.Abs(d) > n.tol+n.reltol*math.Abs(x[i]) {
				converged = false
			}
			x[i] += d
		}
		if converged {
			return iter, nil
		}
	}
	return n.maxIter, n.fail(status, n.maxIter, resid, nil)
}

func (n *Newton) fail(status *device.CircuitStatus, iter int, resid float64, cause error) error {
	return &simerr.ConvergenceError{
		Time:       status.Time,
		Step:       status.TimeStep,
		Iterations: iter,
		Residual:   resid,
		Cause:      cause,
	}
}
