package cmd

import (
	"fmt"
	"sort"
	"time"

	"mcpauth/internal/config"
	"mcpauth/internal/ports"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the command that shows the effective
// configuration and the fixed compatibility port assignments.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show effective configuration and port assignments",
		Long: `Show the configuration mcpauth would run with: the credential store
root, the OAuth callback port range, the trigger timeout, and the fixed
compatibility ports for known server types.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	cfgTable := table.NewWriter()
	cfgTable.SetOutputMirror(out)
	cfgTable.AppendHeader(table.Row{"Setting", "Value"})
	cfgTable.AppendRows([]table.Row{
		{"Store root", cfg.PackageStoreRoot},
		{"Callback port range", fmt.Sprintf("%d-%d", cfg.Ports.RangeStart, cfg.Ports.RangeEnd)},
		{"Trigger timeout", time.Duration(cfg.TriggerTimeoutSeconds) * time.Second},
	})
	cfgTable.Render()

	legacy := ports.LegacyPortMap()
	fragments := make([]string, 0, len(legacy))
	for fragment := range legacy {
		fragments = append(fragments, fragment)
	}
	sort.Strings(fragments)

	fmt.Fprintln(out)
	legacyTable := table.NewWriter()
	legacyTable.SetOutputMirror(out)
	legacyTable.AppendHeader(table.Row{"Server type", "Legacy port"})
	for _, fragment := range fragments {
		legacyTable.AppendRow(table.Row{fragment, legacy[fragment]})
	}
	legacyTable.Render()

	return nil
}
