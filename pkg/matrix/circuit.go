package matrix

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/edp1096/sparse"
)

// ErrSingular is returned when the matrix cannot be factored.
var ErrSingular = errors.New("matrix is singular")

// CircuitMatrix is the sparse LU back end.
//
// Element pointers are cached: once the matrix has been ordered the library
// no longer creates entries, so AddElement only writes through the cache.
// Entries first seen after ordering are held back and the matrix is rebuilt
// before the next factorization.
type CircuitMatrix struct {
	size     int
	matrix   *sparse.Matrix
	solution []float64
	config   *sparse.Configuration
	elements map[[2]int]*sparse.Element
	pending  map[[2]int]float64
}

func NewMatrix(size int) (*CircuitMatrix, error) {
	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %w", err)
	}

	return &CircuitMatrix{
		size:     size,
		matrix:   mat,
		solution: make([]float64, size+1), // 1-based indexing
		config:   config,
		elements: make(map[[2]int]*sparse.Element),
		pending:  make(map[[2]int]float64),
	}, nil
}

func (m *CircuitMatrix) Size() int { return m.size }

// Setup creates every diagonal entry and the entries of pattern, where
// pattern[i] lists the columns row i can touch. Call it before the first
// Solve.
func (m *CircuitMatrix) Setup(pattern [][]int) {
	for i := 1; i <= m.size; i++ {
		m.element(i, i)
	}
	for i, cols := range pattern {
		for _, j := range cols {
			if i > 0 && j > 0 && i <= m.size && j <= m.size {
				m.element(i, j)
			}
		}
	}
}

// element returns the cached entry at (i, j), creating it while the matrix
// is still unordered. It returns nil for a new entry after ordering.
func (m *CircuitMatrix) element(i, j int) *sparse.Element {
	key := [2]int{i, j}
	if e, ok := m.elements[key]; ok {
		return e
	}
	if m.matrix.Reordered {
		return nil
	}
	e := m.matrix.GetElement(int64(i), int64(j))
	m.elements[key] = e
	return e
}

func (m *CircuitMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.size || j > m.size {
		return
	}
	if e := m.element(i, j); e != nil {
		e.Real += value
		return
	}
	m.pending[[2]int{i, j}] += value
}

func (m *CircuitMatrix) Clear() {
	m.matrix.Clear()
	clear(m.pending)
}

// rebuild recreates the matrix with the held back entries added. Entries
// are created in row, column order so the new ordering is reproducible.
func (m *CircuitMatrix) rebuild() error {
	mat, err := sparse.Create(int64(m.size), m.config)
	if err != nil {
		return fmt.Errorf("recreating sparse matrix: %w", err)
	}

	values := make(map[[2]int]float64, len(m.elements)+len(m.pending))
	for key, e := range m.elements {
		values[key] = e.Real
	}
	for key, v := range m.pending {
		values[key] += v
	}
	keys := make([][2]int, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b [2]int) int {
		if a[0] != b[0] {
			return a[0] - b[0]
		}
		return a[1] - b[1]
	})

	elements := make(map[[2]int]*sparse.Element, len(keys))
	for _, key := range keys {
		e := mat.GetElement(int64(key[0]), int64(key[1]))
		e.Real = values[key]
		elements[key] = e
	}

	m.matrix.Destroy()
	m.matrix = mat
	m.elements = elements
	clear(m.pending)
	return nil
}

func (m *CircuitMatrix) Solve(rhs []float64) ([]float64, error) {
	if len(rhs) != m.size+1 {
		return nil, fmt.Errorf("rhs length %d, want %d", len(rhs), m.size+1)
	}
	if len(m.pending) > 0 {
		if err := m.rebuild(); err != nil {
			return nil, err
		}
	}
	if err := m.matrix.Factor(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	solution, err := m.matrix.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %w", err)
	}
	copy(m.solution, solution)
	return m.solution, nil
}

// Element returns the current value at (i, j), 0 when absent.
func (m *CircuitMatrix) Element(i, j int) float64 {
	if i <= 0 || j <= 0 || i > m.size || j > m.size {
		return 0
	}
	key := [2]int{i, j}
	if e, ok := m.elements[key]; ok {
		return e.Real
	}
	return m.pending[key]
}

// PrintSystem writes the nonzero Jacobian entries row by row.
func (m *CircuitMatrix) PrintSystem(w io.Writer, names func(int) string) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "Jacobian (%dx%d):\n", m.size, m.size)
	for i := 1; i <= m.size; i++ {
		fmt.Fprintf(w, "  row %s:", names(i))
		for j := 1; j <= m.size; j++ {
			if v := m.Element(i, j); v != 0 {
				fmt.Fprintf(w, " %+g*%s", v, names(j))
			}
		}
		fmt.Fprintln(w)
	}
}

func (m *CircuitMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
