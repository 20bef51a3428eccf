package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/storage/sqlite"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored fit runs",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			runs, err := store.ListRuns()
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				if runs == nil {
					runs = []*sqlite.Run{}
				}
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tKIND\tSTATUS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.Kind, r.Status, time.Unix(0, r.CreatedAt).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the best scores or the posterior of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			run, err := store.GetRun(args[0])
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			if run.Kind == sqlite.KindPosterior {
				post, err := store.GetPosterior(run.RunID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, struct {
						Run       *sqlite.Run    `json:"run"`
						Posterior *fit.Posterior `json:"posterior"`
					}{run, post})
				}
				fmt.Fprintf(out, "run %s (%s, %s)\n", run.RunID, run.Kind, run.Status)
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "d\ttheta\tstd\tbias\tprob")
				for i, m := range post.Models {
					fmt.Fprintf(w, "%g\t%g\t%g\t%g\t%.6f\n", m.D, m.Theta, m.Std, m.Bias, post.Probs[i])
				}
				return w.Flush()
			}

			scores, err := store.ListScores(run.RunID)
			if err != nil {
				return err
			}
			if top, _ := cmd.Flags().GetInt("top"); top > 0 && len(scores) > top {
				scores = scores[:top]
			}
			if jsonOut {
				return writeJSON(cmd, struct {
					Run    *sqlite.Run       `json:"run"`
					Scores []sqlite.ScoreRow `json:"scores"`
				}{run, scores})
			}
			fmt.Fprintf(out, "run %s (%s, %s)\n", run.RunID, run.Kind, run.Status)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "round\td\ttheta\tstd\tbias\tnll\ttrials\tzero")
			for _, s := range scores {
				p := s.Params
				fmt.Fprintf(w, "%d\t%g\t%g\t%g\t%g\t%.6f\t%d\t%d\n", s.Round, p.D, p.Theta, p.Std, p.Bias, s.NLL, s.Trials, s.ZeroLikelihood)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("top", 10, "Scores to show (0 = all)")
	return cmd
}
