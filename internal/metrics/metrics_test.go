package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/simerr"
	"github.com/snietofennis/BEP-code/pkg/util"
)

func TestSolverCounts(t *testing.T) {
	s := NewSolver()
	reg := prometheus.NewRegistry()
	require.NoError(t, s.Register(reg))

	info := analysis.StepInfo{Circuit: "alm", Scheme: util.Trapezoidal, Step: 0.5, Iterations: 2}
	s.OnStep(info)
	s.OnStep(info)
	s.OnReject(info, &simerr.ConvergenceError{})
	s.OnReject(info, &simerr.ConvergenceError{Cause: &simerr.SingularExpressionError{}})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Steps.WithLabelValues("alm", "trapezoidal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Rejections.WithLabelValues("alm", "convergence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Rejections.WithLabelValues("alm", "singular_expression")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.Iterations))

	// Registering twice fails.
	assert.Error(t, s.Register(reg))
}

func TestCause(t *testing.T) {
	assert.Equal(t, "singular_system", Cause(&simerr.SingularSystemError{}))
	assert.Equal(t, "truncation", Cause(fmt.Errorf("%w: ratio 3", analysis.ErrTruncation)))
	assert.Equal(t, "other", Cause(errors.New("x")))
}
