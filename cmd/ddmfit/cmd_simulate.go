package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/config"
	"github.com/banshee-data/ddmfit/internal/dataset"
	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/report"
	"github.com/banshee-data/ddmfit/internal/simulate"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate trials and compare them with the data",
		Long: `Draw fixation durations from the data, simulate --sim-trials trials for
every ordered pair of distinct stimuli, and write the simulated dataset,
choice and response-time curves for data and simulation, and comparison
plots to --output-dir.

Fixation distributions come from even-numbered trials unless --parity is
given, so fitting on odd trials keeps the two halves independent.
Parameters are taken from --d/--theta/--std/--bias or, with --run, from
the best score or maximum a posteriori model of a stored run.`,
		RunE: runSimulate,
	}
	cmd.Flags().Float64("d", 0, "Drift scale")
	cmd.Flags().Float64("theta", 0, "Attentional discount in [0, 1]")
	cmd.Flags().Float64("std", 0, "Noise standard deviation")
	cmd.Flags().Float64("bias", 0, "Left-gaze drift bias")
	cmd.Flags().String("run", "", "Take parameters from this stored run")
	cmd.Flags().Int("sim-trials", 800, "Simulated trials per condition")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := simulationParams(cmd, cfg)
	if err != nil {
		return err
	}
	trials, err := loadTrials(cfg)
	if err != nil {
		return err
	}

	opts, err := cfg.EvalOptions()
	if err != nil {
		return err
	}
	if cfg.Parity == nil {
		opts.Parity = fit.ParityEven
	}
	fixTrials := fit.SelectTrials(trials, opts)
	fix, err := simulate.Empirical(fixTrials)
	if err != nil {
		return err
	}

	logf := monitoring.Prefixed("simulate")
	conds := simulate.OrientationConditions()
	logf("%v: %d conditions x %d trials, fixations from %d %s trials",
		params, len(conds), cfg.GetSimTrials(), len(fixTrials), opts.Parity)

	sim, err := simulate.New(cfg.Settings(), params, fix, cfg.GetSeed())
	if err != nil {
		return err
	}
	simTrials, err := sim.Conditions(conds, cfg.GetSimTrials())
	if err != nil {
		return err
	}

	dir := cfg.GetOutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeDataset(dir, simTrials); err != nil {
		return err
	}
	for _, set := range []struct {
		name   string
		trials []ddm.Trial
	}{{"data", trials}, {"sim", simTrials}} {
		if err := writeCurves(dir, set.name, set.trials); err != nil {
			return err
		}
	}
	if err := writePlots(dir, trials, simTrials); err != nil {
		return err
	}
	logf("wrote %d simulated trials and reports to %s", len(simTrials), dir)

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return writeJSON(cmd, struct {
			Params    ddm.Params `json:"params"`
			Trials    int        `json:"trials"`
			OutputDir string     `json:"output_dir"`
		}{params, len(simTrials), dir})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "simulated %d trials with %v into %s\n", len(simTrials), params, dir)
	return nil
}

// simulationParams reads the model from flags, or from a stored run when
// --run is given.
func simulationParams(cmd *cobra.Command, cfg *config.FitConfig) (ddm.Params, error) {
	runID, _ := cmd.Flags().GetString("run")
	if runID == "" {
		if !cmd.Flags().Changed("d") || !cmd.Flags().Changed("std") {
			return ddm.Params{}, errors.New("give --d, --theta and --std, or --run")
		}
		return flagParams(cmd)
	}

	store, closeDB, err := openStore(cfg)
	if err != nil {
		return ddm.Params{}, err
	}
	defer closeDB()

	run, err := store.GetRun(runID)
	if err != nil {
		return ddm.Params{}, err
	}
	if run.Kind == sqlite.KindPosterior {
		post, err := store.GetPosterior(runID)
		if err != nil {
			return ddm.Params{}, err
		}
		p, _ := post.MAP()
		return p, nil
	}
	scores, err := store.ListScores(runID)
	if err != nil {
		return ddm.Params{}, err
	}
	if len(scores) == 0 {
		return ddm.Params{}, fmt.Errorf("run %s has no scores", runID)
	}
	return scores[0].Params, nil
}

func createFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeDataset(dir string, trials []ddm.Trial) error {
	expF, err := os.Create(filepath.Join(dir, "sim_expdata.csv"))
	if err != nil {
		return err
	}
	defer expF.Close()
	fixF, err := os.Create(filepath.Join(dir, "sim_fixations.csv"))
	if err != nil {
		return err
	}
	defer fixF.Close()

	if err := dataset.Write(expF, fixF, trials); err != nil {
		return err
	}
	if err := expF.Close(); err != nil {
		return err
	}
	return fixF.Close()
}

func writeCurves(dir, name string, trials []ddm.Trial) error {
	files := []struct {
		suffix string
		write  func(io.Writer) error
	}{
		{"choice", func(w io.Writer) error { return report.WriteChoiceCSV(w, report.ChoiceCurve(trials)) }},
		{"rt", func(w io.Writer) error { return report.WriteRTCSV(w, report.RTCurve(trials)) }},
		{"first_fixation", func(w io.Writer) error { return report.WriteGroupedCSV(w, report.ByFirstFixation(trials)) }},
		{"last_fixation", func(w io.Writer) error { return report.WriteGroupedCSV(w, report.ByLastFixation(trials)) }},
		{"most_fixated", func(w io.Writer) error { return report.WriteGroupedCSV(w, report.ByMostFixated(trials)) }},
	}
	for _, f := range files {
		path := filepath.Join(dir, name+"_"+f.suffix+".csv")
		if err := createFile(path, f.write); err != nil {
			return err
		}
	}
	return nil
}

func writePlots(dir string, data, sim []ddm.Trial) error {
	err := report.PlotCurves(filepath.Join(dir, "choices.png"), "Choices", "P(choose left)",
		report.Series{Label: "Data", Curve: report.ChoiceCurve(data)},
		report.Series{Label: "Simulated", Curve: report.ChoiceCurve(sim)},
	)
	if err != nil {
		return err
	}
	err = report.PlotCurves(filepath.Join(dir, "rt.png"), "Response times", "Mean RT (ms)",
		report.Series{Label: "Data", Curve: report.RTCurve(data)},
		report.Series{Label: "Simulated", Curve: report.RTCurve(sim)},
	)
	if err != nil {
		return err
	}
	dataLast, simLast := report.ByLastFixation(data), report.ByLastFixation(sim)
	return report.PlotCurves(filepath.Join(dir, "last_fixation.png"), "Choice by last fixation", "P(choose left)",
		report.Series{Label: "Data, last left", Curve: dataLast.Left},
		report.Series{Label: "Data, last right", Curve: dataLast.Right},
		report.Series{Label: "Simulated, last left", Curve: simLast.Left},
		report.Series{Label: "Simulated, last right", Curve: simLast.Right},
	)
}
