package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio-import/internal/config"
	"github.com/jackzampolin/folio-import/internal/home"
	"github.com/jackzampolin/folio-import/internal/report"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the folio-import configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the default configuration to --config, or to config.yaml in the
folio-import home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			if err := h.EnsureExists(); err != nil {
				return err
			}
			path = h.ConfigPath()
		}
		if !configForce && fileExists(path) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := *mgr.Get()
		if cfg.Password != "" {
			cfg.Password = "<redacted>"
		}
		format, err := report.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		if !format.Structured() {
			format = report.FormatYAML
		}
		return report.Write(cmd.OutOrStdout(), format, cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
