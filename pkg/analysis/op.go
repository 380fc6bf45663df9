package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// gshunt stepping: start conductance and number of decades down to zero.
const (
	gshuntStart = 1e-2
	gshuntSteps = 10
	seedFloor   = 1e-6
)

// operatingPoint solves the t=0 system with every derivative zero. Pinnable
// initial conditions replace their unknown's row; the others are checked
// against the solution. The solved point is stored and seeds the history.
func (tr *Transient) operatingPoint(ctx context.Context) error {
	t0 := tr.cfg.StartTime
	status := tr.status(t0, 0, device.OperatingPointAnalysis, tr.x)

	tr.asm.ClearPins()
	for _, ic := range tr.ics {
		if tr.ckt.Pinnable(ic.idx) {
			tr.asm.Pin(ic.idx, ic.value)
		}
	}
	defer tr.asm.ClearPins()

	iters, err := tr.solveOP(ctx, status)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &simerr.InvalidInitialConditionError{Cause: err}
	}
	tr.stats.Iterations += iters
	tr.logger.Info("operating point solved", "t", t0, "iterations", iters, "unknowns", tr.ckt.Size())

	for _, ic := range tr.ics {
		if tr.asm.Pinned(ic.idx) {
			continue
		}
		got := tr.x[ic.idx]
		if math.Abs(got-ic.value) > tr.cfg.NewtonTol+tr.cfg.RelTol*math.Abs(ic.value) {
			return &simerr.InvalidInitialConditionError{Name: ic.name, Value: ic.value, Want: got}
		}
	}
	if err := tr.checkReleased(); err != nil {
		return err
	}

	if err := tr.history.Capture(tr.ckt, status); err != nil {
		return &simerr.InvalidInitialConditionError{Cause: err}
	}
	tr.history.Commit(0)
	return tr.store.AppendVector(t0, tr.x[1:])
}

// checkReleased compares the explicit initial condition of every capacitor
// and inductor the t=0 solve did not hold against the solved point.
func (tr *Transient) checkReleased() error {
	for _, dev := range tr.ckt.GetDevices() {
		var want, got float64
		var ok bool
		switch d := dev.(type) {
		case *device.Capacitor:
			want, ok = d.IC()
			ok = ok && !tr.held[d.BranchIndex()]
			n := d.GetNodes()
			got = tr.x[n[0]] - tr.x[n[1]]
		case *device.Inductor:
			want, ok = d.IC()
			ok = ok && !tr.held[d.BranchIndex()] && !tr.asm.Pinned(d.BranchIndex())
			got = tr.x[d.BranchIndex()]
		}
		if ok && math.Abs(got-want) > tr.cfg.NewtonTol+tr.cfg.RelTol*math.Abs(want) {
			return &simerr.InvalidInitialConditionError{Name: dev.GetName(), Value: want, Want: got}
		}
	}
	return nil
}

// solveOP tries a plain Newton solve first. A singular expression at the
// starting guess is retried with clamped denominators to find a starting
// point; non-convergence is retried by stepping a node-to-ground
// conductance down one decade at a time. Either way the final solve uses
// the configured policy and no shunt.
func (tr *Transient) solveOP(ctx context.Context, status *device.CircuitStatus) (int, error) {
	start := append([]float64(nil), status.X...)
	iters, err := tr.newton.Solve(ctx, status)
	if err == nil {
		return iters, nil
	}

	var serr *simerr.SingularExpressionError
	var cerr *simerr.ConvergenceError
	switch {
	case errors.As(err, &serr) && status.Policy.Floor == 0:
		tr.logger.Debug("operating point guess is singular, seeding with a floor", "error", err)
		copy(status.X, start)
		pol := status.Policy
		status.Policy.Floor = seedFloor
		n, seedErr := tr.newton.Solve(ctx, status)
		status.Policy = pol
		iters += n
		if seedErr != nil {
			tr.logger.Warn("seeded operating point failed", "error", seedErr)
			return iters, fmt.Errorf("%w; seeding with a floor: %w", err, seedErr)
		}
	case errors.As(err, &cerr) && tr.ckt.NumNodes() > 0:
		tr.logger.Warn("operating point did not converge, stepping gshunt", "error", err)
		copy(status.X, start)
		defer func() { tr.asm.gshunt = 0 }()
		g := gshuntStart
		for i := 0; i <= gshuntSteps; i++ {
			tr.asm.gshunt = g
			n, err := tr.newton.Solve(ctx, status)
			iters += n
			if err != nil {
				tr.logger.Debug("gshunt step failed", "gshunt", g, "error", err)
				return iters, err
			}
			g /= 10
		}
		tr.asm.gshunt = 0
	default:
		return iters, err
	}

	n, err := tr.newton.Solve(ctx, status)
	return iters + n, err
}
