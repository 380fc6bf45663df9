// Package config reads and writes YAML run files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snietofennis/BEP-code/internal/consts"
	"github.com/snietofennis/BEP-code/pkg/analysis"
	"github.com/snietofennis/BEP-code/pkg/expr"
	"github.com/snietofennis/BEP-code/pkg/matrix"
	"github.com/snietofennis/BEP-code/pkg/util"
)

const (
	DefaultScheme   = "trapezoidal"
	DefaultBackend  = "sparse"
	DefaultLogLevel = "info"
)

type Config struct {
	Netlist  string `yaml:"netlist,omitempty"`
	LogLevel string `yaml:"log_level"`

	StartTime float64 `yaml:"start_time"`
	EndTime   float64 `yaml:"end_time"`
	DtMin     float64 `yaml:"dt_min"`
	DtMax     float64 `yaml:"dt_max"`
	DtInitial float64 `yaml:"dt_initial"`
	Growth    float64 `yaml:"growth"`

	NewtonTol      float64 `yaml:"newton_tol"`
	RelTol         float64 `yaml:"reltol"`
	NewtonMaxIter  int     `yaml:"newton_max_iter"`
	MaxStepRetries int     `yaml:"max_step_retries"`
	Gmin           float64 `yaml:"gmin"`
	TrTol          float64 `yaml:"trtol"`
	LteRelTol      float64 `yaml:"lte_reltol"`
	LteAbsTol      float64 `yaml:"lte_abstol"`

	Scheme   string         `yaml:"scheme"`
	UIC      bool           `yaml:"uic"`
	Backend  string         `yaml:"backend"`
	Division DivisionConfig `yaml:"division"`

	Params            map[string]float64 `yaml:"params,omitempty"`
	InitialConditions map[string]float64 `yaml:"initial_conditions,omitempty"`

	Output OutputConfig `yaml:"output"`
}

// DivisionConfig is the expression division policy.
type DivisionConfig struct {
	Epsilon float64 `yaml:"epsilon"`
	Floor   float64 `yaml:"floor"`
}

type OutputConfig struct {
	CSV  string `yaml:"csv,omitempty"`
	JSON string `yaml:"json,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:       DefaultLogLevel,
		Growth:         consts.Growth,
		NewtonTol:      consts.NewtonTol,
		RelTol:         consts.RelTol,
		NewtonMaxIter:  consts.NewtonMaxIter,
		MaxStepRetries: consts.MaxStepRetries,
		Gmin:           consts.Gmin,
		TrTol:          consts.TrTol,
		LteRelTol:      consts.LteRelTol,
		LteAbsTol:      consts.LteAbsTol,
		Scheme:         DefaultScheme,
		Backend:        DefaultBackend,
		Division:       DivisionConfig{Epsilon: consts.DivEpsilon},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToAnalysis converts the run file to a driver config. Zero step sizes are
// filled in by the driver.
func (c *Config) ToAnalysis() (analysis.Config, error) {
	scheme, err := util.ParseScheme(c.Scheme)
	if err != nil {
		return analysis.Config{}, err
	}
	return analysis.Config{
		StartTime:            c.StartTime,
		EndTime:              c.EndTime,
		DtMin:                c.DtMin,
		DtMax:                c.DtMax,
		DtInitial:            c.DtInitial,
		Growth:               c.Growth,
		NewtonTol:            c.NewtonTol,
		RelTol:               c.RelTol,
		NewtonMaxIter:        c.NewtonMaxIter,
		MaxStepRetries:       c.MaxStepRetries,
		TrTol:                c.TrTol,
		LteRelTol:            c.LteRelTol,
		LteAbsTol:            c.LteAbsTol,
		Scheme:               scheme,
		UseInitialConditions: c.UIC,
		Gmin:                 c.Gmin,
		Policy:               expr.Policy{Epsilon: c.Division.Epsilon, Floor: c.Division.Floor},
		Backend:              matrix.Backend(c.Backend),
	}, nil
}
