package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/config"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func newNLLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nll",
		Short: "Score one parameter set",
		Long: `Compute the negative log-likelihood of the selected trials under one
parameter set. Trials with zero likelihood are excluded from the sum and
counted separately.

Examples:
  ddmfit nll --expdata expdata.csv --fixations fixations.csv --d 0.002 --theta 0.5 --std 0.1
  ddmfit nll --config fit.yaml --d 0.002 --theta 0.5 --std 0.1 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p, err := flagParams(cmd)
			if err != nil {
				return err
			}

			ev, err := newEvaluator(cmd, cfg)
			if err != nil {
				return err
			}
			res, err := ev.Evaluate(cmd.Context(), p)
			if err != nil {
				return err
			}

			runID := ""
			if save, _ := cmd.Flags().GetBool("save"); save {
				if runID, err = saveNLL(cfg, res); err != nil {
					return err
				}
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, struct {
					RunID string `json:"run_id,omitempty"`
					fit.Evaluation
				}{runID, res})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\nnll=%.6f trials=%d zero_likelihood=%d\n", p, res.NLL, res.Trials, res.ZeroLikelihood)
			if runID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runID)
			}
			return nil
		},
	}

	cmd.Flags().Float64("d", 0, "Drift scale")
	cmd.Flags().Float64("theta", 0, "Attentional discount in [0, 1]")
	cmd.Flags().Float64("std", 0, "Noise standard deviation")
	cmd.Flags().Float64("bias", 0, "Left-gaze drift bias")
	cmd.Flags().Bool("save", false, "Record the result as a run in --database")
	cmd.MarkFlagRequired("d")
	cmd.MarkFlagRequired("theta")
	cmd.MarkFlagRequired("std")
	return cmd
}

func saveNLL(cfg *config.FitConfig, res fit.Evaluation) (string, error) {
	store, closeDB, err := openStore(cfg)
	if err != nil {
		return "", err
	}
	defer closeDB()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	run, err := store.CreateRun(sqlite.KindNLL, raw)
	if err != nil {
		return "", err
	}
	err = store.InsertScores(run.RunID, 0, []fit.Scored{{Evaluation: res}})
	finishRun(store, run.RunID, err)
	return run.RunID, err
}
