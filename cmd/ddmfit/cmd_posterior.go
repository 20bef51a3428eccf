package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/report"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func newPosteriorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posterior",
		Short: "Posterior probability of each grid model",
		Long: `Start from a uniform prior over every point of the parameter grid and
update it with the likelihood of each selected trial in turn. Trials that
no model can explain leave the posterior unchanged.

The final posterior is stored in --database and rendered, together with
its evolution over trials, to posterior.html in --output-dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			space, err := cfg.ParamSpace()
			if err != nil {
				return err
			}
			points, err := space.Points()
			if err != nil {
				return err
			}
			models := make([]ddm.Params, len(points))
			for i, p := range points {
				models[i] = p.Params
			}

			ev, err := newEvaluator(cmd, cfg)
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			raw, err := json.Marshal(cfg)
			if err != nil {
				return err
			}
			run, err := store.CreateRun(sqlite.KindPosterior, raw)
			if err != nil {
				return err
			}

			logf := monitoring.Prefixed("posterior")
			logf("run %s: %d models over %d trials", run.RunID, len(models), len(ev.Trials()))
			var trace [][]float64
			post, stats, err := fit.RunPosterior(cmd.Context(), ev, models, func(i int, t ddm.Trial, post *fit.Posterior, updated bool) error {
				if !updated {
					logf("subject %s trial %d: zero likelihood under every model, skipped", t.Subject, t.ID)
				}
				trace = append(trace, append([]float64(nil), post.Probs...))
				return nil
			})
			if err == nil {
				err = store.InsertPosterior(run.RunID, post)
			}
			finishRun(store, run.RunID, err)
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.GetOutputDir(), "posterior.html")
			if err := writePosteriorReport(path, post, trace, stats); err != nil {
				return err
			}
			logf("wrote %s", path)

			best, prob := post.MAP()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, struct {
					RunID  string             `json:"run_id"`
					Stats  fit.PosteriorStats `json:"stats"`
					MAP    ddm.Params         `json:"map"`
					Models []ddm.Params       `json:"models"`
					Probs  []float64          `json:"probs"`
				}{run.RunID, stats, best, post.Models, post.Probs})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d trials applied, %d skipped\n", run.RunID, stats.Updated, stats.Skipped)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "d\ttheta\tstd\tbias\tprob")
			for i, m := range post.Models {
				fmt.Fprintf(w, "%g\t%g\t%g\t%g\t%.6f\n", m.D, m.Theta, m.Std, m.Bias, post.Probs[i])
			}
			w.Flush()
			fmt.Fprintf(out, "map %v p=%.6f\n", best, prob)
			return nil
		},
	}
	addGridFlags(cmd)
	return cmd
}

func writePosteriorReport(path string, post *fit.Posterior, trace [][]float64, stats fit.PosteriorStats) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	subtitle := fmt.Sprintf("%d trials applied, %d skipped", stats.Updated, stats.Skipped)
	if err := report.PosteriorReport(f, post, trace, subtitle); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
