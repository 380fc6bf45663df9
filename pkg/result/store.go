// Package result holds simulated time series. A Store is append-only and
// may be read from other goroutines while a run appends to it.
package result

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/snietofennis/BEP-code/pkg/simerr"
)

var (
	ErrTimeOrder = errors.New("time must strictly increase")
	ErrNonFinite = errors.New("non-finite value")
	ErrLength    = errors.New("value count does not match series count")
)

// Sample is one point of a series.
type Sample struct {
	Time  float64
	Value float64
}

// Lookup maps a name to a 1-based series position.
type Lookup func(name string) (int, error)

type Option func(*Store)

// WithLookup adds a fallback resolver for names that are not series names,
// for example SPICE prefixed element names.
func WithLookup(fn Lookup) Option {
	return func(s *Store) { s.lookup = fn }
}

type Store struct {
	mu     sync.RWMutex
	names  []string
	index  map[string]int
	lookup Lookup
	times  []float64
	cols   [][]float64
}

func New(names []string, opts ...Option) *Store {
	s := &Store{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
		cols:  make([][]float64, len(names)),
	}
	for i, n := range names {
		s.index[n] = i
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendVector stores one point with values in Names() order.
func (s *Store) AppendVector(t float64, values []float64) error {
	if len(values) != len(s.names) {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, len(values), len(s.names))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%g at t=%g", ErrNonFinite, s.names[i], v, t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTime(t); err != nil {
		return err
	}
	s.times = append(s.times, t)
	for i, v := range values {
		s.cols[i] = append(s.cols[i], v)
	}
	return nil
}

// Append stores one point given by name. Every series must be present.
func (s *Store) Append(t float64, values map[string]float64) error {
	vec := make([]float64, len(s.names))
	seen := 0
	for name, v := range values {
		i, err := s.column(name)
		if err != nil {
			return err
		}
		vec[i] = v
		seen++
	}
	if seen != len(s.names) {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, seen, len(s.names))
	}
	return s.AppendVector(t, vec)
}

func (s *Store) checkTime(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: time %g", ErrNonFinite, t)
	}
	if n := len(s.times); n > 0 && !(t > s.times[n-1]) {
		return fmt.Errorf("%w: %g after %g", ErrTimeOrder, t, s.times[n-1])
	}
	return nil
}

// column resolves a series name: exact, then I(name), then V(name), then
// the lookup option.
func (s *Store) column(name string) (int, error) {
	if i, ok := s.index[name]; ok {
		return i, nil
	}
	for _, wrapped := range []string{"I(" + name + ")", "V(" + name + ")"} {
		if i, ok := s.index[wrapped]; ok {
			return i, nil
		}
	}
	if s.lookup != nil {
		if pos, err := s.lookup(name); err == nil && pos >= 1 && pos <= len(s.names) {
			return pos - 1, nil
		}
	}
	return 0, &simerr.UnknownReferenceError{Kind: "series", Name: name}
}

// Series returns a copy of the named series.
func (s *Store) Series(name string) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.column(name)
	if err != nil {
		return nil, err
	}
	out := make([]Sample, len(s.times))
	for k, t := range s.times {
		out[k] = Sample{Time: t, Value: s.cols[i][k]}
	}
	return out, nil
}

func (s *Store) Values(name string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.column(name)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), s.cols[i]...), nil
}

func (s *Store) Times() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.times...)
}

func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Len is the number of stored points.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.times)
}

// Last returns the most recent point of a series.
func (s *Store) Last(name string) (Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, err := s.column(name)
	if err != nil {
		return Sample{}, err
	}
	n := len(s.times)
	if n == 0 {
		return Sample{}, fmt.Errorf("series %s is empty", name)
	}
	return Sample{Time: s.times[n-1], Value: s.cols[i][n-1]}, nil
}

// Row returns the k-th point of every series in Names() order.
func (s *Store) Row(k int) (float64, []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := make([]float64, len(s.names))
	for i := range s.cols {
		row[i] = s.cols[i][k]
	}
	return s.times[k], row
}
