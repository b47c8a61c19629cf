package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/machichima/obstore/cmd/obstore/commands"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "obstore",
		Short: "obstore - uniform object storage client",
		Long: `obstore is a command-line client for object storage backends.

The backend is chosen by the URL scheme:
  s3://bucket/key          Amazon S3 and compatible services
  gs://bucket/key          Google Cloud Storage
  az://container/key       Azure Blob Storage
  http(s)://host/path      Plain HTTP(S) endpoints
  file:///dir/key          Local filesystem
  memory://key             In-process memory store

Credentials and options come from a YAML profile (~/.obstore/config.yaml),
from environment variables (AWS_*, GOOGLE_*, AZURE_*), and from repeated
-o key=value flags.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&commands.ProfilePath, "profile", "", "path to the YAML profile (default ~/.obstore/config.yaml)")
	rootCmd.PersistentFlags().StringArrayVarP(&commands.Overrides, "option", "o", nil, "store option override (key=value, repeatable)")

	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewCatCmd())
	rootCmd.AddCommand(commands.NewHeadCmd())
	rootCmd.AddCommand(commands.NewPutCmd())
	rootCmd.AddCommand(commands.NewRemoveCmd())
	rootCmd.AddCommand(commands.NewCopyCmd())
	rootCmd.AddCommand(commands.NewSignCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
