// Package config loads fit configuration files.
//
// Every field is optional. A nil field takes the default returned by its
// getter, so a config file only needs to name the values it changes and
// command-line flags can be layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
)

const maxConfigSize = 1 << 20

// Default grid values for the coarse search round.
const (
	DefaultD     = "0.0015,0.002,0.0025"
	DefaultTheta = "0.5,0.7,0.9"
	DefaultStd   = "0.15,0.2,0.25"
)

// FitConfig is the on-disk form of a fit invocation.
type FitConfig struct {
	// Input data.
	ExpData   *string `json:"expdata,omitempty" yaml:"expdata,omitempty"`
	Fixations *string `json:"fixations,omitempty" yaml:"fixations,omitempty"`

	// Discretisation.
	StateStep   *float64 `json:"state_step,omitempty" yaml:"state_step,omitempty"`
	TimeStep    *int     `json:"time_step,omitempty" yaml:"time_step,omitempty"`
	BarrierUp   *float64 `json:"barrier_up,omitempty" yaml:"barrier_up,omitempty"`
	BarrierDown *float64 `json:"barrier_down,omitempty" yaml:"barrier_down,omitempty"`
	Decay       *float64 `json:"decay,omitempty" yaml:"decay,omitempty"`

	// Trial selection.
	TrialsPerSubject *int    `json:"trials_per_subject,omitempty" yaml:"trials_per_subject,omitempty"`
	Parity           *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	Seed             *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Grid values are "min:max:step" or a comma-separated list.
	D        *string `json:"d,omitempty" yaml:"d,omitempty"`
	Theta    *string `json:"theta,omitempty" yaml:"theta,omitempty"`
	Std      *string `json:"std,omitempty" yaml:"std,omitempty"`
	StdRatio *string `json:"std_ratio,omitempty" yaml:"std_ratio,omitempty"`
	Bias     *string `json:"bias,omitempty" yaml:"bias,omitempty"`

	Rounds         *int `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	ValuesPerParam *int `json:"values_per_param,omitempty" yaml:"values_per_param,omitempty"`
	TopK           *int `json:"top_k,omitempty" yaml:"top_k,omitempty"`

	// Outputs.
	Database  *string `json:"database,omitempty" yaml:"database,omitempty"`
	OutputDir *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	SimTrials *int    `json:"sim_trials,omitempty" yaml:"sim_trials,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultFitConfig returns a config with every field set to its default.
func DefaultFitConfig() *FitConfig {
	s := ddm.DefaultSettings()
	return &FitConfig{
		StateStep:        ptrFloat64(s.StateStep),
		TimeStep:         ptrInt(s.TimeStep),
		BarrierUp:        ptrFloat64(s.BarrierUp),
		BarrierDown:      ptrFloat64(s.BarrierDown),
		Decay:            ptrFloat64(s.Decay),
		TrialsPerSubject: ptrInt(0),
		Parity:           ptrString("all"),
		Seed:             ptrUint64(1),
		Workers:          ptrInt(0),
		D:                ptrString(DefaultD),
		Theta:            ptrString(DefaultTheta),
		Std:              ptrString(DefaultStd),
		Rounds:           ptrInt(1),
		ValuesPerParam:   ptrInt(5),
		TopK:             ptrInt(5),
		Database:         ptrString("ddmfit.db"),
		OutputDir:        ptrString("out"),
		SimTrials:        ptrInt(800),
	}
}

// LoadFitConfig reads a JSON or YAML config file, chosen by extension.
func LoadFitConfig(path string) (*FitConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must be .json, .yaml or .yml, got %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max 1MB)", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &FitConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *FitConfig) Validate() error {
	if err := c.Settings().Validate(); err != nil {
		return err
	}
	if c.TrialsPerSubject != nil && *c.TrialsPerSubject < 0 {
		return fmt.Errorf("trials_per_subject must be non-negative, got %d", *c.TrialsPerSubject)
	}
	if c.Parity != nil {
		if _, err := fit.ParseParity(*c.Parity); err != nil {
			return err
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Rounds != nil && *c.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", *c.Rounds)
	}
	if c.ValuesPerParam != nil && *c.ValuesPerParam < 2 {
		return fmt.Errorf("values_per_param must be at least 2, got %d", *c.ValuesPerParam)
	}
	if c.TopK != nil && *c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", *c.TopK)
	}
	if c.SimTrials != nil && *c.SimTrials < 1 {
		return fmt.Errorf("sim_trials must be at least 1, got %d", *c.SimTrials)
	}
	if _, err := c.ParamSpace(); err != nil {
		return err
	}
	return nil
}

// Settings returns the discretisation, with defaults for unset fields.
func (c *FitConfig) Settings() ddm.Settings {
	s := ddm.DefaultSettings()
	if c.StateStep != nil {
		s.StateStep = *c.StateStep
	}
	if c.TimeStep != nil {
		s.TimeStep = *c.TimeStep
	}
	if c.BarrierUp != nil {
		s.BarrierUp = *c.BarrierUp
	}
	if c.BarrierDown != nil {
		s.BarrierDown = *c.BarrierDown
	}
	if c.Decay != nil {
		s.Decay = *c.Decay
	}
	return s
}

// EvalOptions returns the trial selection options.
func (c *FitConfig) EvalOptions() (fit.EvalOptions, error) {
	parity, err := fit.ParseParity(c.GetParity())
	if err != nil {
		return fit.EvalOptions{}, err
	}
	return fit.EvalOptions{
		TrialsPerSubject: c.GetTrialsPerSubject(),
		Parity:           parity,
		Seed:             c.GetSeed(),
	}, nil
}

// ParamSpace builds the grid. Std and StdRatio are mutually exclusive;
// when StdRatio is set the default Std list is not used.
func (c *FitConfig) ParamSpace() (fit.ParamSpace, error) {
	type entry struct {
		name string
		spec string
	}
	entries := []entry{
		{fit.DimD, c.GetD()},
		{fit.DimTheta, c.GetTheta()},
	}
	if c.StdRatio != nil && *c.StdRatio != "" {
		if c.Std != nil && *c.Std != "" {
			return fit.ParamSpace{}, fmt.Errorf("%w: std and std_ratio are mutually exclusive", fit.ErrInvalidSpace)
		}
		entries = append(entries, entry{fit.DimStdRatio, *c.StdRatio})
	} else {
		entries = append(entries, entry{fit.DimStd, c.GetStd()})
	}
	if c.Bias != nil && *c.Bias != "" {
		entries = append(entries, entry{fit.DimBias, *c.Bias})
	}

	space := fit.ParamSpace{}
	for _, e := range entries {
		dim, err := fit.ParseDimension(e.name + "=" + e.spec)
		if err != nil {
			return fit.ParamSpace{}, err
		}
		space.Dimensions = append(space.Dimensions, dim)
	}
	if err := space.Validate(); err != nil {
		return fit.ParamSpace{}, err
	}
	return space, nil
}

// GetExpData returns the experiment data path, or "" if unset.
func (c *FitConfig) GetExpData() string {
	if c.ExpData == nil {
		return ""
	}
	return *c.ExpData
}

// GetFixations returns the fixation data path, or "" if unset.
func (c *FitConfig) GetFixations() string {
	if c.Fixations == nil {
		return ""
	}
	return *c.Fixations
}

func (c *FitConfig) GetTrialsPerSubject() int {
	if c.TrialsPerSubject == nil {
		return 0
	}
	return *c.TrialsPerSubject
}

func (c *FitConfig) GetParity() string {
	if c.Parity == nil || *c.Parity == "" {
		return "all"
	}
	return *c.Parity
}

func (c *FitConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetWorkers returns the worker count. Zero means one per CPU.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *FitConfig) GetD() string {
	if c.D == nil || *c.D == "" {
		return DefaultD
	}
	return *c.D
}

func (c *FitConfig) GetTheta() string {
	if c.Theta == nil || *c.Theta == "" {
		return DefaultTheta
	}
	return *c.Theta
}

func (c *FitConfig) GetStd() string {
	if c.Std == nil || *c.Std == "" {
		return DefaultStd
	}
	return *c.Std
}

func (c *FitConfig) GetRounds() int {
	if c.Rounds == nil {
		return 1
	}
	return *c.Rounds
}

func (c *FitConfig) GetValuesPerParam() int {
	if c.ValuesPerParam == nil {
		return 5
	}
	return *c.ValuesPerParam
}

func (c *FitConfig) GetTopK() int {
	if c.TopK == nil {
		return 5
	}
	return *c.TopK
}

func (c *FitConfig) GetDatabase() string {
	if c.Database == nil || *c.Database == "" {
		return "ddmfit.db"
	}
	return *c.Database
}

func (c *FitConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "out"
	}
	return *c.OutputDir
}

func (c *FitConfig) GetSimTrials() int {
	if c.SimTrials == nil {
		return 800
	}
	return *c.SimTrials
}
