package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/util"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "trapezoidal", cfg.Scheme)
	assert.Equal(t, 1.2, cfg.Growth)
	assert.Equal(t, 100, cfg.NewtonMaxIter)
	assert.Equal(t, 1e-15, cfg.Division.Epsilon)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
netlist: alm.cir
end_time: 300
dt_max: 1
scheme: be
trtol: 5
uic: true
backend: dense
division:
  floor: 1e-9
params:
  q_L0: 48
initial_conditions:
  V(out): 0.5
output:
  csv: out.csv
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alm.cir", cfg.Netlist)
	assert.Equal(t, 48.0, cfg.Params["q_L0"])
	assert.Equal(t, 0.5, cfg.InitialConditions["V(out)"])
	assert.Equal(t, 1.2, cfg.Growth)

	ac, err := cfg.ToAnalysis()
	require.NoError(t, err)
	assert.Equal(t, util.BackwardEuler, ac.Scheme)
	assert.Equal(t, 300.0, ac.EndTime)
	assert.True(t, ac.UseInitialConditions)
	assert.Equal(t, matrix.Dense, ac.Backend)
	assert.Equal(t, 1e-9, ac.Policy.Floor)
	assert.Equal(t, 1e-15, ac.Policy.Epsilon)
	assert.Equal(t, 5.0, ac.TrTol)
	assert.Equal(t, 1e-3, ac.LteRelTol)
	assert.Equal(t, 1e-6, ac.LteAbsTol)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := DefaultConfig()
	cfg.EndTime = 12
	cfg.Params = map[string]float64{"k": 2}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestBadInput(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Scheme = "rk4"
	_, err = cfg.ToAnalysis()
	assert.Error(t, err)
}
