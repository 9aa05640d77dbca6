package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/version"
)

var (
	cfgFile      string
	homeDir      string
	reportsDir   string
	outputFormat string
	logLevel     string
	noProgress   bool
)

var rootCmd = &cobra.Command{
	Use:   "folio-import",
	Short: "Batch import client for library services platforms",
	Long: `folio-import loads records into a library services platform in batches.

It supports two import paths:
  - MARC files through the data import job lifecycle, with timeout escalation
    and job-level retries
  - JSON-lines records posted to the batch storage endpoints, with optional
    upsert against existing records

Records that cannot be sent are kept in failure ledgers under the reports
directory and can be resubmitted one by one with "folio-import replay".`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.folio-import/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "folio-import home directory (default: ~/.folio-import)",
	)
	rootCmd.PersistentFlags().StringVar(
		&reportsDir, "reports-dir", "", "directory for failure ledgers and data issue logs (default: <home>/reports)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "table", "output format: table, yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides log_level)",
	)
	rootCmd.PersistentFlags().BoolVar(
		&noProgress, "no-progress", false, "do not log progress lines",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(marcCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(replayCmd)
}
