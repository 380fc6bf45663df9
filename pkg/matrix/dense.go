package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DenseMatrix is a gonum LU back end for small systems and cross checks.
type DenseMatrix struct {
	size int
	a    *mat.Dense
	lu   mat.LU
	x    *mat.VecDense
}

func NewDenseMatrix(size int) *DenseMatrix {
	return &DenseMatrix{
		size: size,
		a:    mat.NewDense(size, size, nil),
		x:    mat.NewVecDense(size, nil),
	}
}

func (m *DenseMatrix) Size() int { return m.size }

func (m *DenseMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.size || j > m.size {
		return
	}
	m.a.Set(i-1, j-1, m.a.At(i-1, j-1)+value)
}

// Setup is a no-op, every entry exists.
func (m *DenseMatrix) Setup([][]int) {}

func (m *DenseMatrix) Clear() {
	m.a.Zero()
}

func (m *DenseMatrix) Solve(rhs []float64) ([]float64, error) {
	if len(rhs) != m.size+1 {
		return nil, fmt.Errorf("rhs length %d, want %d", len(rhs), m.size+1)
	}
	m.lu.Factorize(m.a)
	b := mat.NewVecDense(m.size, append([]float64(nil), rhs[1:]...))
	if err := m.lu.SolveVecTo(m.x, false, b); err != nil {
		// A finite Condition is only a warning, the solution is still written.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}

	out := make([]float64, m.size+1)
	for i := 0; i < m.size; i++ {
		out[i+1] = m.x.AtVec(i)
	}
	return out, nil
}

func (m *DenseMatrix) Destroy() {}
