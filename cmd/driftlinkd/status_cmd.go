package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/openmined/driftlink/internal/config"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration driftlinkd would run with",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", color.New(color.FgHiCyan).Sprint("config:"), cfg.Path)
			fmt.Fprintf(out, "%s %s (%v)\n", color.New(color.FgHiCyan).Sprint("agent:"), cfg.AgentCommand, cfg.AgentArgs)
			fmt.Fprintf(out, "%s %dms\n", color.New(color.FgHiCyan).Sprint("debounce:"), cfg.DebounceMillis)
			fmt.Fprintln(out, color.New(color.FgHiCyan).Sprint("mappings:"))
			for _, m := range cfg.Mappings {
				fmt.Fprintf(out, "  %s -> %s\n", m.LocalRoot, m.RemoteRoot)
			}
			return nil
		},
	}
}
