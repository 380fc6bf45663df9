package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/snietofennis/BEP-code/internal/logging"
	"github.com/snietofennis/BEP-code/pkg/circuit"
	"github.com/snietofennis/BEP-code/pkg/device"
	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/result"
	"github.com/snietofennis/BEP-code/pkg/simerr"
	"github.com/snietofennis/BEP-code/pkg/util"
)

type Option func(*Transient)

// WithInitialConditions sets values at t=0 keyed by unknown name: V(n),
// I(e), idt(e#k), or a bare node or element name.
func WithInitialConditions(ics map[string]float64) Option {
	return func(tr *Transient) {
		for k, v := range ics {
			tr.icNames[k] = v
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(tr *Transient) { tr.logger = l }
}

func WithObserver(o Observer) Option {
	return func(tr *Transient) { tr.observers = append(tr.observers, o) }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(tr *Transient) { tr.runID = id }
}

type initialCondition struct {
	name  string
	idx   int
	value float64
}

// Transient integrates a finalized circuit from StartTime to EndTime.
// A Transient runs once; build a new one for another run.
type Transient struct {
	ckt       *circuit.Circuit
	cfg       Config
	runID     string
	logger    *slog.Logger
	observers []Observer

	icNames map[string]float64
	ics     []initialCondition
	held    []bool

	state State
	stats Stats

	sys     matrix.System
	asm     *Assembler
	newton  *Newton
	history *StepHistory
	x       []float64
	trial   []float64
	store   *result.Store
}

// NewTransient validates cfg and resolves the initial conditions.
func NewTransient(ckt *circuit.Circuit, cfg Config, opts ...Option) (*Transient, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr := &Transient{
		ckt:     ckt,
		cfg:     cfg,
		runID:   uuid.NewString(),
		logger:  logging.NewNop(),
		icNames: make(map[string]float64),
		state:   Initializing,
	}
	for _, opt := range opts {
		opt(tr)
	}
	tr.logger = tr.logger.With("run_id", tr.runID, "circuit", ckt.Name())

	for name, v := range tr.icNames {
		idx, err := ckt.LookupUnknown(name)
		if err != nil {
			var uerr *simerr.UnknownReferenceError
			if errors.As(err, &uerr) {
				uerr.Where = "initial conditions"
			}
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &simerr.InvalidInitialConditionError{Name: name, Value: v, Want: math.NaN()}
		}
		tr.ics = append(tr.ics, initialCondition{name: ckt.UnknownName(idx), idx: idx, value: v})
	}
	sort.Slice(tr.ics, func(i, j int) bool { return tr.ics[i].idx < tr.ics[j].idx })

	tr.store = result.New(ckt.UnknownNames(), result.WithLookup(ckt.LookupUnknown))
	return tr, nil
}

func (tr *Transient) RunID() string { return tr.runID }

func (tr *Transient) State() State { return tr.state }

func (tr *Transient) Stats() Stats { return tr.stats }

func (tr *Transient) Config() Config { return tr.cfg }

// Results is the store Run appends to. It may be read while Run is active.
func (tr *Transient) Results() *result.Store { return tr.store }

// Run solves the t=0 point and steps to EndTime. On failure the store keeps
// every committed point and the error says why the run stopped.
func (tr *Transient) Run(ctx context.Context) (*result.Store, error) {
	if tr.state != Initializing {
		return tr.store, fmt.Errorf("transient %s already ran", tr.runID)
	}
	err := tr.run(ctx)
	if err != nil {
		tr.setState(Failed)
		tr.logger.Error("transient failed", "error", err,
			"points", tr.store.Len(), "accepted", tr.stats.Accepted, "rejected", tr.stats.Rejected)
		return tr.store, err
	}
	tr.setState(Completed)
	tr.logger.Info("transient completed",
		"points", tr.store.Len(), "accepted", tr.stats.Accepted, "rejected", tr.stats.Rejected,
		"iterations", tr.stats.Iterations)
	return tr.store, nil
}

func (tr *Transient) setState(s State) {
	tr.logger.Debug("state", "from", tr.state, "to", s)
	tr.state = s
}

func (tr *Transient) run(ctx context.Context) error {
	if err := tr.setup(); err != nil {
		return err
	}
	defer tr.sys.Destroy()

	tr.setState(OperatingPoint)
	if err := tr.operatingPoint(ctx); err != nil {
		return err
	}

	tr.setState(Stepping)
	return tr.step(ctx)
}

func (tr *Transient) setup() error {
	n := tr.ckt.Size()
	sys, err := matrix.New(tr.cfg.Backend, n)
	if err != nil {
		return err
	}
	sys.Setup(tr.ckt.Pattern())
	tr.sys = sys
	tr.asm = NewAssembler(tr.ckt, sys)
	tr.newton = NewNewton(tr.asm, sys, tr.cfg)
	tr.history = NewStepHistory(tr.ckt.NumSlots())
	tr.x = make([]float64, n+1)
	tr.trial = make([]float64, n+1)
	var pinned []int
	for _, ic := range tr.ics {
		tr.x[ic.idx] = ic.value
		if tr.ckt.Pinnable(ic.idx) {
			pinned = append(pinned, ic.idx)
		}
	}
	tr.held = tr.ckt.StartHolds(tr.cfg.UseInitialConditions, pinned)
	return nil
}

func (tr *Transient) status(t, h float64, mode device.AnalysisMode, x []float64) *device.CircuitStatus {
	return &device.CircuitStatus{
		Time:     t,
		TimeStep: h,
		Mode:     mode,
		Held:     tr.held,
		Gmin:     tr.cfg.Gmin,
		X:        x,
		History:  tr.history.Slots(),
		Policy:   tr.cfg.Policy,
		Refs:     tr.ckt,
	}
}

// ErrTruncation rejects a step whose local truncation error estimate is
// above tolerance.
var ErrTruncation = errors.New("truncation error above tolerance")

// step runs the Stepping phase. The first step and the first step after a
// breakpoint use backward Euler. Other steps are checked against the local
// truncation error; a rejected step is retried with backward Euler at an
// eighth of its length.
func (tr *Transient) step(ctx context.Context) error {
	cfg := tr.cfg
	bps := tr.ckt.Breakpoints(cfg.EndTime)
	next := 0
	half := cfg.DtMin / 2

	t := cfg.StartTime
	dt := cfg.DtInitial
	restart := true
	retries := 0

	for t < cfg.EndTime {
		if err := ctx.Err(); err != nil {
			return err
		}
		ratio := 0.0

		for next < len(bps) && bps[next] <= t+half {
			next++
		}

		h := math.Min(math.Max(dt, cfg.DtMin), cfg.DtMax)
		target := t + h
		clipped, onBreakpoint := false, false
		if next < len(bps) && target >= bps[next]-half {
			target, clipped, onBreakpoint = bps[next], true, true
		}
		if target >= cfg.EndTime-half {
			target, clipped = cfg.EndTime, true
		}
		h = target - t

		scheme := cfg.Scheme
		if restart {
			scheme = util.BackwardEuler
		}
		info := StepInfo{
			RunID:   tr.runID,
			Circuit: tr.ckt.Name(),
			Time:    target,
			Step:    h,
			Scheme:  scheme,
			Retry:   retries,
		}

		iters, err := tr.solve(ctx, target, h, scheme)
		info.Iterations = iters
		if err == nil && !restart && cfg.TrTol > 0 {
			ratio = tr.history.Truncation(h, scheme, cfg)
			if ratio > 1 && h > cfg.DtMin {
				terr := fmt.Errorf("%w: ratio %.3g", ErrTruncation, ratio)
				tr.stats.Rejected++
				for _, o := range tr.observers {
					o.OnReject(info, terr)
				}
				tr.logger.Debug("step rejected", "t", target, "dt", h, "error", terr)
				// Retry with backward Euler and a much shorter step.
				restart = true
				dt = h / 8
				if dt < cfg.DtMin {
					dt = h / 2
				}
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			tr.stats.Rejected++
			for _, o := range tr.observers {
				o.OnReject(info, err)
			}
			if !tr.recoverable(err) || retries >= cfg.MaxStepRetries || h <= cfg.DtMin {
				return tr.escalate(err, target, h)
			}
			tr.logger.Debug("step rejected", "t", target, "dt", h, "retry", retries, "error", err)
			retries++
			dt = h / 2
			continue
		}

		if err := tr.commit(target, h, restart); err != nil {
			return err
		}
		t = target
		retries = 0
		restart = onBreakpoint
		tr.stats.accept(info)
		for _, o := range tr.observers {
			o.OnStep(info)
		}
		if !clipped {
			dt = h
			if ratio < 0.5 {
				dt = h * cfg.Growth
			}
		}
	}
	return nil
}

// solve runs Newton for one step and captures the candidate history.
func (tr *Transient) solve(ctx context.Context, t, h float64, scheme util.Scheme) (int, error) {
	copy(tr.trial, tr.x)
	status := tr.status(t, h, device.TransientAnalysis, tr.trial)
	status.A0, status.B = util.Coefficients(scheme, h)

	iters, err := tr.newton.Solve(ctx, status)
	if err != nil {
		return iters, err
	}
	if err := tr.history.Capture(tr.ckt, status); err != nil {
		return iters, err
	}
	return iters, nil
}

// commit stores the solved step and makes it the accepted state. A step
// started at a restart does not carry its history into error estimates.
func (tr *Transient) commit(t, h float64, restart bool) error {
	if err := tr.store.AppendVector(t, tr.trial[1:]); err != nil {
		return err
	}
	span := h
	if restart {
		span = 0
	}
	tr.history.Commit(span)
	tr.x, tr.trial = tr.trial, tr.x
	return nil
}

// recoverable reports whether a smaller step may succeed.
func (tr *Transient) recoverable(err error) bool {
	var cerr *simerr.ConvergenceError
	var serr *simerr.SingularExpressionError
	var sys *simerr.SingularSystemError
	switch {
	case errors.As(err, &cerr), errors.As(err, &serr):
		return true
	case errors.As(err, &sys):
		// Singular at one iterate after a good start.
		return tr.stats.Accepted > 0
	}
	return false
}

func (tr *Transient) escalate(err error, t, h float64) error {
	var cerr *simerr.ConvergenceError
	if errors.As(err, &cerr) {
		return err
	}
	if !tr.recoverable(err) {
		return err
	}
	return &simerr.ConvergenceError{Time: t, Step: h, Cause: err}
}
