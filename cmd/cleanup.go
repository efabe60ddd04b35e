package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"mcpauth/internal/config"
	"mcpauth/internal/orchestrator"
	"mcpauth/pkg/logging"

	"github.com/spf13/cobra"
)

var cleanupCredentials bool

// newCleanupCmd creates the command that tears down tracked processes
// and, optionally, the persisted credential stores.
func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Kill tracked processes and release their resources",
		Long: `Kill every tracked MCP server process, deregister it, and release its
callback port. With --credentials the persisted per-server credential
stores under the store root are removed as well.

In a fresh CLI invocation no processes are tracked; the command then
only acts on --credentials. Embedding hosts call the same cleanup at
shutdown.`,
		RunE: runCleanup,
	}
	cmd.Flags().BoolVar(&cleanupCredentials, "credentials", false, "Also remove persisted credential stores")
	return cmd
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
	if err != nil {
		return err
	}

	orchestrator.New(cfg).Cleanup()

	if cleanupCredentials {
		serversDir := filepath.Join(cfg.PackageStoreRoot, "servers")
		if err := os.RemoveAll(serversDir); err != nil {
			return fmt.Errorf("failed to remove credential stores: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed credential stores under %s\n", serversDir)
	}

	return nil
}
