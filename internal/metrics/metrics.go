// Package metrics exports solver statistics as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/simerr"
)

// Solver is an analysis.Observer that records step outcomes per circuit.
type Solver struct {
	Steps      *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Iterations *prometheus.HistogramVec
	StepSize   *prometheus.HistogramVec
}

var _ analysis.Observer = (*Solver)(nil)

func NewSolver() *Solver {
	return &Solver{
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bep_transient_steps_total",
				Help: "Accepted transient steps",
			},
			[]string{"circuit", "scheme"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bep_transient_rejections_total",
				Help: "Rejected transient steps by cause",
			},
			[]string{"circuit", "cause"},
		),
		Iterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bep_newton_iterations",
				Help:    "Newton iterations per accepted step",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
			},
			[]string{"circuit"},
		),
		StepSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bep_step_size_seconds",
				Help:    "Accepted step sizes in model time",
				Buckets: prometheus.ExponentialBuckets(1e-9, 10, 13),
			},
			[]string{"circuit"},
		),
	}
}

// Register adds every collector to reg.
func (s *Solver) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.Steps, s.Rejections, s.Iterations, s.StepSize} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) OnStep(info analysis.StepInfo) {
	s.Steps.WithLabelValues(info.Circuit, info.Scheme.String()).Inc()
	s.Iterations.WithLabelValues(info.Circuit).Observe(float64(info.Iterations))
	s.StepSize.WithLabelValues(info.Circuit).Observe(info.Step)
}

func (s *Solver) OnReject(info analysis.StepInfo, err error) {
	s.Rejections.WithLabelValues(info.Circuit, Cause(err)).Inc()
}

// Cause names the error class used as the rejection label.
func Cause(err error) string {
	var (
		conv *simerr.ConvergenceError
		expr *simerr.SingularExpressionError
		sys  *simerr.SingularSystemError
	)
	switch {
	case errors.As(err, &expr):
		return "singular_expression"
	case errors.As(err, &sys):
		return "singular_system"
	case errors.As(err, &conv):
		return "convergence"
	case errors.Is(err, analysis.ErrTruncation):
		return "truncation"
	}
	return "other"
}
