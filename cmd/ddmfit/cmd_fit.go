package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
	"github.com/banshee-data/ddmfit/internal/timeutil"
)

func newFitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Grid search for the best-fitting parameters",
		Long: `Evaluate every point of the parameter grid and keep the one with the
lowest negative log-likelihood. With --rounds above 1, each later round
searches a finer grid spanning the best --top-k points of the round before.
Every evaluated point is stored in --database under a new run.

Examples:
  ddmfit fit --expdata expdata.csv --fixations fixations.csv
  ddmfit fit --config fit.yaml --parity odd --trials-per-subject 200 --rounds 3
  ddmfit fit --config fit.yaml --d 0.0015,0.0025,0.0035 --std-ratio 20,40,60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			space, err := cfg.ParamSpace()
			if err != nil {
				return err
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
			run, err := store.CreateRun(sqlite.KindGrid, raw)
			if err != nil {
				return err
			}
			monitoring.Logf("[fit] run %s", run.RunID)

			gs := &fit.GridSearch{
				Evaluator:      ev,
				Space:          space,
				Rounds:         cfg.GetRounds(),
				ValuesPerParam: cfg.GetValuesPerParam(),
				TopK:           cfg.GetTopK(),
				OnRound: func(rs fit.RoundSummary) error {
					return store.InsertScores(run.RunID, rs.Round, rs.Ranked)
				},
				Logf: monitoring.Logf,
			}
			clock := timeutil.RealClock{}
			start := clock.Now()
			res, err := gs.Run(cmd.Context())
			finishRun(store, run.RunID, err)
			if err != nil {
				return err
			}
			monitoring.Logf("[fit] run %s finished in %v", run.RunID, clock.Since(start).Round(time.Millisecond))

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, struct {
					RunID string     `json:"run_id"`
					Best  fit.Scored `json:"best"`
				}{run.RunID, res.Best})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", run.RunID)
			for _, rs := range res.Rounds {
				b := rs.Best()
				fmt.Fprintf(out, "round %d: %d points, best %v nll=%.6f\n", rs.Round, len(rs.Ranked), b.Params, b.NLL)
			}
			fmt.Fprintf(out, "best %v nll=%.6f trials=%d zero_likelihood=%d\n",
				res.Best.Params, res.Best.NLL, res.Best.Trials, res.Best.ZeroLikelihood)
			return nil
		},
	}

	addGridFlags(cmd)
	cmd.Flags().Int("rounds", 1, "Coarse-to-fine search rounds")
	cmd.Flags().Int("values-per-param", 5, "Values per free parameter in rounds after the first")
	cmd.Flags().Int("top-k", 5, "Best points that bound the next round")
	return cmd
}
