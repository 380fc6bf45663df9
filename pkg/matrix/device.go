package matrix

// DeviceMatrix receives one Newton iteration's contributions: Jacobian
// entries and residual rows. Indices are 1-based, index 0 is ground and
// contributions to it are dropped.
type DeviceMatrix interface {
	AddElement(i, j int, value float64)
	AddResidual(i int, value float64)
}

// System is a square linear system J*x = rhs, refilled each iteration.
type System interface {
	Size() int
	// Setup declares the entries each row can touch, pattern[i] being the
	// columns of row i.
	Setup(pattern [][]int)
	AddElement(i, j int, value float64)
	Clear()
	// Solve factors the matrix and solves for rhs (1-based, len Size()+1).
	Solve(rhs []float64) ([]float64, error)
	Destroy()
}

// Backend names a System implementation.
type Backend string

const (
	Sparse Backend = "sparse"
	Dense  Backend = "dense"
)

// New returns an empty system of the given size.
func New(backend Backend, size int) (System, error) {
	switch backend {
	case "", Sparse:
		return NewMatrix(size)
	case Dense:
		return NewDenseMatrix(size), nil
	}
	return nil, &UnknownBackendError{Name: string(backend)}
}

type UnknownBackendError struct{ Name string }

func (e *UnknownBackendError) Error() string { return "unknown matrix backend " + e.Name }
