package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/snietofennis/BEP-code/internal/consts"
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/util"
)

var ErrInvalidConfig = errors.New("invalid analysis config")

// Config controls a transient run. Zero fields take defaults from
// withDefaults; StartTime is the instant the initial conditions hold at.
type Config struct {
	StartTime float64
	EndTime   float64

	DtMin     float64
	DtMax     float64
	DtInitial float64
	Growth    float64

	NewtonTol      float64
	RelTol         float64
	NewtonMaxIter  int
	MaxStepRetries int

	// TrTol scales the allowed local truncation error,
	// LteRelTol*|value| + LteAbsTol. A negative TrTol turns the check off.
	TrTol     float64
	LteRelTol float64
	LteAbsTol float64

	Scheme util.Scheme
	// UseInitialConditions holds every capacitor voltage and inductor current
	// at t=0, to its IC or to zero, unless holding it leaves the t=0 system
	// singular (see circuit.StartHolds).
	UseInitialConditions bool
	Gmin                 float64

	Policy  expr.Policy
	Backend matrix.Backend
}

// DefaultConfig returns a trapezoidal run over [0, end] with dt_max = end/50.
func DefaultConfig(end float64) Config {
	return Config{EndTime: end, Scheme: util.Trapezoidal}.withDefaults()
}

func (c Config) withDefaults() Config {
	span := c.EndTime - c.StartTime
	if c.DtMax == 0 {
		c.DtMax = span / 50
	}
	if c.DtInitial == 0 {
		c.DtInitial = c.DtMax
	}
	if c.DtMin == 0 {
		c.DtMin = c.DtMax * 1e-9
	}
	if c.Growth == 0 {
		c.Growth = consts.Growth
	}
	if c.NewtonTol == 0 {
		c.NewtonTol = consts.NewtonTol
	}
	if c.RelTol == 0 {
		c.RelTol = consts.RelTol
	}
	if c.NewtonMaxIter == 0 {
		c.NewtonMaxIter = consts.NewtonMaxIter
	}
	if c.MaxStepRetries == 0 {
		c.MaxStepRetries = consts.MaxStepRetries
	}
	if c.TrTol == 0 {
		c.TrTol = consts.TrTol
	}
	if c.LteRelTol == 0 {
		c.LteRelTol = consts.LteRelTol
	}
	if c.LteAbsTol == 0 {
		c.LteAbsTol = consts.LteAbsTol
	}
	if c.Gmin == 0 {
		c.Gmin = consts.Gmin
	}
	if c.Policy == (expr.Policy{}) {
		c.Policy = expr.DefaultPolicy
	}
	if c.Backend == "" {
		c.Backend = matrix.Sparse
	}
	return c
}

func (c Config) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"start time", c.StartTime}, {"end time", c.EndTime}, {"dt_min", c.DtMin},
		{"dt_max", c.DtMax}, {"dt_initial", c.DtInitial}, {"growth", c.Growth},
		{"trtol", c.TrTol}, {"lte_reltol", c.LteRelTol}, {"lte_abstol", c.LteAbsTol},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is %g", ErrInvalidConfig, f.name, f.v)
		}
	}
	switch {
	case !(c.EndTime > c.StartTime):
		return fmt.Errorf("%w: end time %g must be after start time %g", ErrInvalidConfig, c.EndTime, c.StartTime)
	case !(c.DtMin > 0):
		return fmt.Errorf("%w: dt_min must be positive", ErrInvalidConfig)
	case c.DtMax < c.DtMin:
		return fmt.Errorf("%w: dt_max %g below dt_min %g", ErrInvalidConfig, c.DtMax, c.DtMin)
	case c.DtInitial < c.DtMin || c.DtInitial > c.DtMax:
		return fmt.Errorf("%w: dt_initial %g outside [%g, %g]", ErrInvalidConfig, c.DtInitial, c.DtMin, c.DtMax)
	case c.Growth < 1:
		return fmt.Errorf("%w: growth %g below 1", ErrInvalidConfig, c.Growth)
	case !(c.NewtonTol > 0) || c.RelTol < 0:
		return fmt.Errorf("%w: tolerances must be positive", ErrInvalidConfig)
	case c.TrTol > 0 && (c.LteRelTol < 0 || !(c.LteAbsTol > 0)):
		return fmt.Errorf("%w: truncation tolerances must be positive", ErrInvalidConfig)
	case c.NewtonMaxIter < 1:
		return fmt.Errorf("%w: newton_max_iter must be at least 1", ErrInvalidConfig)
	case c.MaxStepRetries < 0:
		return fmt.Errorf("%w: max_step_retries is negative", ErrInvalidConfig)
	case c.Scheme != util.BackwardEuler && c.Scheme != util.Trapezoidal:
		return fmt.Errorf("%w: scheme %v", ErrInvalidConfig, c.Scheme)
	case c.Policy.Epsilon < 0 || c.Policy.Floor < 0:
		return fmt.Errorf("%w: division policy must not be negative", ErrInvalidConfig)
	}
	return nil
}

// State is the driver phase.
type State int

const (
	Initializing State = iota
	OperatingPoint
	Stepping
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case OperatingPoint:
		return "operating_point"
	case Stepping:
		return "stepping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StepInfo describes an accepted or rejected step.
type StepInfo struct {
	RunID      string
	Circuit    string
	Time       float64 // Target time of the step
	Step       float64
	Scheme     util.Scheme
	Iterations int
	Retry      int
}

// Observer is notified from the driver goroutine after each step attempt.
type Observer interface {
	OnStep(info StepInfo)
	OnReject(info StepInfo, err error)
}

// Stats counts the work of one run.
type Stats struct {
	Accepted   int
	Rejected   int
	Iterations int
	MinStep    float64
	MaxStep    float64
}

func (s *Stats) accept(info StepInfo) {
	s.Accepted++
	s.Iterations += info.Iterations
	if s.MinStep == 0 || info.Step < s.MinStep {
		s.MinStep = info.Step
	}
	if info.Step > s.MaxStep {
		s.MaxStep = info.Step
	}
}
