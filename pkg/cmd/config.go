package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/apoxy-dev/howdy/config"
	"github.com/apoxy-dev/howdy/pretty"
)

var (
	showJSON    bool
	writeConfig bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print or write the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if writeConfig {
			if err := config.Store(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", config.ConfigFile)
			return nil
		}

		if showJSON {
			b, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		}
		configTable(cfg).Fprint(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&showJSON, "json", false, "Print the configuration as JSON.")
	configCmd.Flags().BoolVar(&writeConfig, "write", false, "Write the effective configuration to the config file.")

	rootCmd.AddCommand(configCmd)
}

func configTable(cfg *config.Config) pretty.Table {
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}
	return pretty.Table{
		Header: pretty.Header{"Setting", "Value"},
		Rows: pretty.Rows{
			{"config_file", config.ConfigFile},
			{"listen_addr", cfg.ListenAddr},
			{"max_workers", cfg.MaxWorkers},
			{"read_timeout", cfg.ReadTimeout},
			{"write_timeout", cfg.WriteTimeout},
			{"max_line_length", cfg.MaxLineLength},
			{"max_body_bytes", cfg.MaxBodyBytes},
			{"metrics_addr", orNone(cfg.MetricsAddr)},
			{"access_log", orNone(cfg.AccessLog)},
			{"log_level", cfg.LogLevel},
			{"json_logs", cfg.JSONLogs},
			{"verbose", cfg.Verbose},
		},
	}
}
