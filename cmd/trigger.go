package cmd

import (
	"fmt"
	"strings"
	"time"

	"mcpauth/internal/api"
	"mcpauth/internal/config"
	"mcpauth/internal/orchestrator"
	"mcpauth/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Trigger-specific flags
var (
	triggerName         string
	triggerUUID         string
	triggerCommand      string
	triggerArgs         []string
	triggerEnv          []string
	triggerTimeout      time.Duration
	triggerCallbackPort int
	triggerStoreRoot    string
	triggerQuiet        bool
	triggerVerbose      bool
)

// newTriggerCmd creates the command that runs one full OAuth trigger
// flow for an MCP server and reports the outcome via the exit code.
func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Launch an MCP server and trigger its OAuth flow",
		Long: `Launch an MCP server process with an isolated credential store and
watch its output until a token is captured, an authorization URL is
published, or the attempt times out.

Exit codes:
  0  a token was captured
  2  user authorization is required (the URL is printed)
  3  the flow failed

Examples:
  mcpauth trigger --name linear --command npx --args -y --args mcp-remote --args https://mcp.linear.app/sse
  mcpauth trigger --name notion --command ./server --timeout 2m --callback-port -1`,
		RunE: runTrigger,
	}

	cmd.Flags().StringVar(&triggerName, "name", "", "Server name (required)")
	cmd.Flags().StringVar(&triggerUUID, "uuid", "", "Server UUID for the credential store (generated when omitted)")
	cmd.Flags().StringVar(&triggerCommand, "command", "", "Command to launch (required)")
	cmd.Flags().StringArrayVar(&triggerArgs, "args", nil, "Command argument (repeatable)")
	cmd.Flags().StringArrayVar(&triggerEnv, "env", nil, "Extra KEY=VALUE environment entry (repeatable)")
	cmd.Flags().DurationVar(&triggerTimeout, "timeout", 0, "Attempt timeout (default from config)")
	cmd.Flags().IntVar(&triggerCallbackPort, "callback-port", 0, "OAuth callback port; -1 allocates one from the configured range")
	cmd.Flags().StringVar(&triggerStoreRoot, "store-root", "", "Override the credential store root directory")
	cmd.Flags().BoolVarP(&triggerQuiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVarP(&triggerVerbose, "verbose", "v", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("command")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) error {
	level := logging.LevelWarn
	if triggerVerbose {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
	if err != nil {
		return err
	}
	if triggerStoreRoot != "" {
		cfg.PackageStoreRoot = triggerStoreRoot
	}

	env, err := parseEnvFlags(triggerEnv)
	if err != nil {
		return err
	}

	serverUUID := triggerUUID
	if serverUUID == "" {
		serverUUID = uuid.NewString()
	}

	spec := &api.LaunchSpec{
		ServerName:   triggerName,
		ServerUUID:   serverUUID,
		Command:      triggerCommand,
		Args:         triggerArgs,
		Env:          env,
		Timeout:      triggerTimeout,
		CallbackPort: triggerCallbackPort,
	}

	o := orchestrator.New(cfg)

	var s *spinner.Spinner
	if !triggerQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Triggering OAuth flow for %s...", triggerName)
		s.Start()
	}

	record := o.TriggerOAuth(cmd.Context(), spec)

	if s != nil {
		s.Stop()
	}

	finishTrigger(o, record)
	return printTriggerOutcome(cmd, record)
}

// finishTrigger tears the orchestrator down unless the outcome asks the
// user to visit an authorization URL. That server must outlive the
// command so the OAuth library can still persist the token once the
// user completes the flow in the browser; a later trigger run for the
// same server then picks the token up from disk.
func finishTrigger(o *orchestrator.Orchestrator, record *api.TokenRecord) {
	if record.NeedsUserAction() {
		return
	}
	o.Cleanup()
}

// printTriggerOutcome renders the terminal record and converts the
// non-success shapes into the typed errors the exit-code mapping keys on.
func printTriggerOutcome(cmd *cobra.Command, record *api.TokenRecord) error {
	out := cmd.OutOrStdout()

	switch {
	case record.Success:
		fmt.Fprintf(out, "%s\n", text.FgGreen.Sprint("Authenticated"))
		fmt.Fprintf(out, "  Token:  %s\n", record.Token)
		fmt.Fprintf(out, "  Type:   %s\n", record.TokenType)
		if record.Metadata != nil && !record.Metadata.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "  Expires: %s\n", record.Metadata.ExpiresAt.Format(time.RFC3339))
		}
		return nil

	case record.NeedsUserAction():
		fmt.Fprintf(out, "%s\n", text.FgYellow.Sprint("Authorization required"))
		fmt.Fprintf(out, "  Open:   %s\n", record.OAuthURL)
		return &AuthRequiredError{URL: record.OAuthURL}

	default:
		fmt.Fprintf(out, "%s\n", text.FgRed.Sprint("Failed"))
		return &AuthFailedError{Reason: record.Error}
	}
}

// parseEnvFlags validates repeated --env entries.
func parseEnvFlags(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env entry %q, expected KEY=VALUE", entry)
		}
		env[key] = value
	}
	return env, nil
}
