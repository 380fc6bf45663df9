package result

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/pkg/simerr"
)

func TestAppendAndRead(t *testing.T) {
	s := New([]string{"V(a)", "I(Loans)", "idt(Balance#0)"})
	require.NoError(t, s.AppendVector(0, []float64{1, 2, 48}))
	require.NoError(t, s.Append(1, map[string]float64{"a": 1.5, "Loans": 2.5, "idt(Balance#0)": 50}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []float64{0, 1}, s.Times())

	v, err := s.Values("V(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1.5}, v)

	series, err := s.Series("Loans")
	require.NoError(t, err)
	assert.Equal(t, []Sample{{0, 2}, {1, 2.5}}, series)

	last, err := s.Last("idt(Balance#0)")
	require.NoError(t, err)
	assert.Equal(t, Sample{Time: 1, Value: 50}, last)
}

func TestAppendRejects(t *testing.T) {
	s := New([]string{"V(a)"})
	require.NoError(t, s.AppendVector(1, []float64{0}))

	assert.ErrorIs(t, s.AppendVector(1, []float64{0}), ErrTimeOrder)
	assert.ErrorIs(t, s.AppendVector(0.5, []float64{0}), ErrTimeOrder)
	assert.ErrorIs(t, s.AppendVector(2, []float64{math.NaN()}), ErrNonFinite)
	assert.ErrorIs(t, s.AppendVector(2, []float64{math.Inf(1)}), ErrNonFinite)
	assert.ErrorIs(t, s.AppendVector(2, []float64{0, 1}), ErrLength)
	assert.Equal(t, 1, s.Len())

	err := s.Append(2, map[string]float64{"V(b)": 1})
	var uerr *simerr.UnknownReferenceError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "series", uerr.Kind)
}

func TestUnknownSeries(t *testing.T) {
	s := New([]string{"V(a)"})
	_, err := s.Series("b")
	var uerr *simerr.UnknownReferenceError
	assert.ErrorAs(t, err, &uerr)
	_, err = s.Last("V(a)")
	assert.Error(t, err)
}

func TestLookupFallback(t *testing.T) {
	s := New([]string{"I(Loan_Balance)"}, WithLookup(func(name string) (int, error) {
		if name == "I(BLoan_Balance)" {
			return 1, nil
		}
		return 0, &simerr.UnknownReferenceError{Kind: "I", Name: name}
	}))
	require.NoError(t, s.AppendVector(0, []float64{48}))
	last, err := s.Last("I(BLoan_Balance)")
	require.NoError(t, err)
	assert.Equal(t, 48.0, last.Value)
}

func TestConcurrentReaders(t *testing.T) {
	s := New([]string{"x"})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			_ = s.AppendVector(float64(i), []float64{float64(i)})
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v, err := s.Values("x")
				if err == nil && len(v) > 0 {
					_ = v[len(v)-1]
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, s.Len())
}

func TestExport(t *testing.T) {
	s := New([]string{"V(a)", "I(R1)"})
	require.NoError(t, s.AppendVector(0, []float64{1, 0.5}))
	require.NoError(t, s.AppendVector(0.25, []float64{2, 1e-9}))

	var csvBuf bytes.Buffer
	require.NoError(t, s.WriteCSV(&csvBuf))
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	assert.Equal(t, []string{"time,V(a),I(R1)", "0,1,0.5", "0.25,2,1e-09"}, lines)

	var jsonBuf bytes.Buffer
	require.NoError(t, s.WriteJSON(&jsonBuf, Metadata{RunID: "run-1", Circuit: "alm"}))
	var doc struct {
		Metadata Metadata             `json:"metadata"`
		Time     []float64            `json:"time"`
		Series   map[string][]float64 `json:"series"`
	}
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc.Metadata.RunID)
	assert.Equal(t, []float64{0, 0.25}, doc.Time)
	assert.Equal(t, []float64{0.5, 1e-9}, doc.Series["I(R1)"])
}
