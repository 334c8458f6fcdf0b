package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/brewbridge/internal/server"
)

var (
	configPath string
	demo       bool
	listenAddr string
	portPath   string
)

var rootCmd = &cobra.Command{
	Use:   "brewbridge",
	Short: "Serial bridge for a USB coffee brewer",
	Long: `Brewbridge talks to a coffee brewer over its USB serial line, keeps the
latest water and bean levels, and serves a small control page and JSON API.

Without a subcommand it runs the bridge:
  brewbridge --config /etc/brewbridge/config.yaml
  brewbridge --demo --listen :8080`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", server.DefaultConfigPath, "Path to config file")
	rootCmd.Flags().BoolVar(&demo, "demo", false, "Run against a simulated brewer")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	rootCmd.PersistentFlags().StringVarP(&portPath, "port", "p", "", "Serial port device, skips auto-detection")
}

// loadConfig applies command line overrides on top of file and environment.
func loadConfig() (*server.Config, error) {
	cfg := server.LoadConfig(configPath)
	if demo {
		cfg.Device.Type = "demo"
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if portPath != "" {
		cfg.Device.PortPath = portPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
