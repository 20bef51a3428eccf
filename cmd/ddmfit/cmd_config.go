package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration that results from --config and the flags given
with this command. Fields that are not set take their defaults. The output
can be saved and passed back with --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	addGridFlags(cmd)
	cmd.Flags().Int("rounds", 1, "Coarse-to-fine search rounds")
	cmd.Flags().Int("values-per-param", 5, "Values per free parameter in rounds after the first")
	cmd.Flags().Int("top-k", 5, "Best points that bound the next round")
	cmd.Flags().Int("sim-trials", 800, "Simulated trials per condition")
	return cmd
}
