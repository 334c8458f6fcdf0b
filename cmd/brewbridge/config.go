package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var writeConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after file, .env and environment overrides are
applied. With --write the result is saved back to the --config path.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&writeConfig, "write", false, "Save the effective config to the config path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	cmd.OutOrStdout().Write(data)

	if writeConfig {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", cfg.Path())
	}
	return nil
}
