package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/apoxy-dev/howdy/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "howdy",
	Short: "Howdy is a tiny one-request-per-connection HTTP/1.1 server.",
	Long: `Howdy accepts TCP connections, decodes a single HTTP/1.1 request from each
and answers with the request body, or a greeting when there is none.

Start a server with 'howdy serve' and inspect the effective settings with 'howdy config'.
`,
	DisableAutoGenTag: true,
}

// ExecuteContext executes root command with context.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigFile, "config", "", "Config file (default is $HOME/.howdy/config.yaml).")
	rootCmd.PersistentFlags().BoolVarP(&config.Verbose, "verbose", "v", false, "Enable verbose output.")
}
