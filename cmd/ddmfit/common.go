package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/config"
	"github.com/banshee-data/ddmfit/internal/dataset"
	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// changed reports whether the flag exists with the given type and was set
// on the command line. nll declares d, theta and std as numbers where the
// search commands take lists.
func changed(cmd *cobra.Command, name, typ string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed && f.Value.Type() == typ
}

func overrideString(cmd *cobra.Command, name string, dst **string) {
	if !changed(cmd, name, "string") {
		return
	}
	v, _ := cmd.Flags().GetString(name)
	*dst = &v
}

func overrideInt(cmd *cobra.Command, name string, dst **int) {
	if !changed(cmd, name, "int") {
		return
	}
	v, _ := cmd.Flags().GetInt(name)
	*dst = &v
}

func overrideFloat(cmd *cobra.Command, name string, dst **float64) {
	if !changed(cmd, name, "float64") {
		return
	}
	v, _ := cmd.Flags().GetFloat64(name)
	*dst = &v
}

// loadConfig reads --config, if given, and applies every flag that was set
// on the command line on top of it.
func loadConfig(cmd *cobra.Command) (*config.FitConfig, error) {
	cfg := &config.FitConfig{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFitConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrideString(cmd, "expdata", &cfg.ExpData)
	overrideString(cmd, "fixations", &cfg.Fixations)
	overrideInt(cmd, "workers", &cfg.Workers)
	overrideInt(cmd, "trials-per-subject", &cfg.TrialsPerSubject)
	overrideString(cmd, "parity", &cfg.Parity)
	if changed(cmd, "seed", "uint64") {
		v, _ := cmd.Flags().GetUint64("seed")
		cfg.Seed = &v
	}
	overrideFloat(cmd, "state-step", &cfg.StateStep)
	overrideInt(cmd, "time-step", &cfg.TimeStep)
	if changed(cmd, "barrier", "float64") {
		b, _ := cmd.Flags().GetFloat64("barrier")
		down := -b
		cfg.BarrierUp, cfg.BarrierDown = &b, &down
	}
	overrideFloat(cmd, "decay", &cfg.Decay)
	overrideString(cmd, "database", &cfg.Database)
	overrideString(cmd, "output-dir", &cfg.OutputDir)

	// Grid flags exist only on the search commands.
	overrideString(cmd, "d", &cfg.D)
	overrideString(cmd, "theta", &cfg.Theta)
	overrideString(cmd, "bias", &cfg.Bias)
	if changed(cmd, "std", "string") {
		cfg.StdRatio = nil
		overrideString(cmd, "std", &cfg.Std)
	}
	if changed(cmd, "std-ratio", "string") {
		cfg.Std = nil
		overrideString(cmd, "std-ratio", &cfg.StdRatio)
	}
	overrideInt(cmd, "rounds", &cfg.Rounds)
	overrideInt(cmd, "values-per-param", &cfg.ValuesPerParam)
	overrideInt(cmd, "top-k", &cfg.TopK)
	overrideInt(cmd, "sim-trials", &cfg.SimTrials)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagParams reads a single parameter tuple from the float flags and checks
// it against the search domains.
func flagParams(cmd *cobra.Command) (ddm.Params, error) {
	var p ddm.Params
	p.D, _ = cmd.Flags().GetFloat64("d")
	p.Theta, _ = cmd.Flags().GetFloat64("theta")
	p.Std, _ = cmd.Flags().GetFloat64("std")
	p.Bias, _ = cmd.Flags().GetFloat64("bias")
	if err := p.Validate(); err != nil {
		return ddm.Params{}, err
	}
	if lo, hi, _ := fit.Domain(fit.DimTheta); p.Theta < lo || p.Theta > hi {
		return ddm.Params{}, fmt.Errorf("%w: theta must be in [%g, %g], got %g", ddm.ErrInvalidParams, lo, hi, p.Theta)
	}
	return p, nil
}

func addGridFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("d", config.DefaultD, "Drift scale values: min:max:step or a comma-separated list")
	f.String("theta", config.DefaultTheta, "Attentional discount values")
	f.String("std", config.DefaultStd, "Noise standard deviation values")
	f.String("std-ratio", "", "Noise as a multiple of d; replaces --std")
	f.String("bias", "", "Left-gaze drift bias values (default 0)")
}

func loadTrials(cfg *config.FitConfig) ([]ddm.Trial, error) {
	if cfg.GetExpData() == "" || cfg.GetFixations() == "" {
		return nil, errors.New("both --expdata and --fixations are required")
	}
	trials, err := dataset.Load(cfg.GetExpData(), cfg.GetFixations())
	if err != nil {
		return nil, err
	}
	monitoring.Logf("loaded %d trials from %s", len(trials), cfg.GetExpData())
	return trials, nil
}

func newEngine(cmd *cobra.Command, cfg *config.FitConfig) (*ddm.Engine, error) {
	engine, err := ddm.NewEngine(cfg.Settings())
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		steps, _ := cmd.Flags().GetBool("trace-steps")
		engine.Tracer = ddm.LogTracer{Logf: monitoring.Logf, Steps: steps}
	}
	return engine, nil
}

// newEvaluator loads the data named by cfg and prepares the trial
// selection every model will be scored on.
func newEvaluator(cmd *cobra.Command, cfg *config.FitConfig) (*fit.Evaluator, error) {
	trials, err := loadTrials(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(cmd, cfg)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.EvalOptions()
	if err != nil {
		return nil, err
	}
	pool := fit.NewPool(cfg.GetWorkers())
	ev, err := fit.NewEvaluator(engine, pool, trials, opts)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("selected %d of %d trials (parity %s, %d workers)", len(ev.Trials()), len(trials), opts.Parity, pool.Workers())
	return ev, nil
}

func openStore(cfg *config.FitConfig) (*sqlite.FitStore, func(), error) {
	db, err := sqlite.Open(cfg.GetDatabase())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return sqlite.NewFitStore(db), func() { db.Close() }, nil
}

// finishRun records the final status of a run. A failure to record is
// logged so the original error is what the caller returns.
func finishRun(store *sqlite.FitStore, runID string, runErr error) {
	status := sqlite.StatusComplete
	if runErr != nil {
		status = sqlite.StatusFailed
	}
	if err := store.FinishRun(runID, status); err != nil {
		monitoring.Logf("failed to mark run %s %s: %v", runID, status, err)
	}
}
