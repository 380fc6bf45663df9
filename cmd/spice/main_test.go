package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/internal/config"
	"github.com/snietofennis/BEP-code/pkg/netlist"
	"github.com/snietofennis/BEP-code/pkg/result"
	"github.com/snietofennis/BEP-code/pkg/util"
)

const deposits = `* deposits
.param q0=100
VFlow 0 0 DC 2
BDeposits 0 0 I={q0} + idt(I(VFlow))
.tran 1 10
.options method=be
`

func TestMergeParams(t *testing.T) {
	got, err := mergeParams(map[string]float64{"a": 1, "b": 2}, map[string]string{"b": "3k"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 3000}, got)

	_, err = mergeParams(nil, map[string]string{"b": "x"})
	assert.Error(t, err)
}

func TestAnalysisConfigPrecedence(t *testing.T) {
	nl, err := netlist.Parse(deposits)
	require.NoError(t, err)

	ac, err := analysisConfig(nl, config.DefaultConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ac.EndTime)
	assert.Equal(t, util.BackwardEuler, ac.Scheme)

	rc := config.DefaultConfig()
	rc.Scheme = "trap"
	ac, err = analysisConfig(nl, rc, true)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ac.EndTime)
	assert.Equal(t, 1.0, ac.DtMax)
	assert.Equal(t, util.Trapezoidal, ac.Scheme)

	rc.EndTime = 50
	ac, err = analysisConfig(nl, rc, true)
	require.NoError(t, err)
	assert.Equal(t, 50.0, ac.EndTime)
	assert.Zero(t, ac.DtMax)

	noTran, err := netlist.Parse("* x\nVFlow 0 0 DC 2\n")
	require.NoError(t, err)
	_, err = analysisConfig(noTran, config.DefaultConfig(), false)
	assert.Error(t, err)
}

func TestPrintTable(t *testing.T) {
	store := result.New([]string{"I(BDeposits)"})
	require.NoError(t, store.AppendVector(0, []float64{100}))
	require.NoError(t, store.AppendVector(1, []float64{102}))
	require.NoError(t, store.AppendVector(2, []float64{104}))

	var buf bytes.Buffer
	printTable(&buf, store, 2)
	out := buf.String()
	assert.Contains(t, out, "3 time points")
	assert.Contains(t, out, "I(BDeposits)")
	assert.Contains(t, out, "100.000000")
	assert.NotContains(t, out, "102.000000")
	assert.Contains(t, out, "104.000000")
	assert.Contains(t, out, "104.000")

	buf.Reset()
	printTable(&buf, result.New([]string{"x"}), 1)
	assert.Contains(t, buf.String(), "0 time points")
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	store := result.New([]string{"I(B1)"})
	require.NoError(t, store.AppendVector(0, []float64{1}))

	csvPath := dir + "/out.csv"
	jsonPath := dir + "/out.json"
	require.NoError(t, writeOutputs(store, result.Metadata{RunID: "r1"}, csvPath, jsonPath))
	assert.FileExists(t, csvPath)
	assert.FileExists(t, jsonPath)

	assert.Error(t, writeOutputs(store, result.Metadata{}, dir+"/missing/out.csv", ""))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ALM_rate_shock", sanitize("ALM rate shock"))
}
