package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shaunagostinho/brewbridge/internal/device"
	"github.com/shaunagostinho/brewbridge/internal/server"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and show which one looks like the brewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := server.LoadConfig(configPath)
		return listPorts(cmd, device.NewLocator(cfg.Device.Markers, nil, zerolog.Nop()))
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func listPorts(cmd *cobra.Command, loc *device.Locator) error {
	ports, err := loc.Ports()
	if err != nil {
		return fmt.Errorf("enumerate ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB ID\tDESCRIPTION\tBREWER")
	for _, p := range ports {
		id := "-"
		if p.USB {
			id = p.VID + ":" + p.PID
		}
		match := ""
		if p.Match {
			match = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, id, p.Description, match)
	}
	return w.Flush()
}
