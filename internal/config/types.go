package config

// Config is the top-level configuration for the orchestration engine.
type Config struct {
	// Ports configures the OAuth callback port allocator.
	Ports PortsConfig `yaml:"ports,omitempty"`

	// PackageStoreRoot is the directory under which per-server isolated
	// credential directories are created (<root>/servers/<uuid>/oauth).
	// Empty means a default under the user home directory.
	PackageStoreRoot string `yaml:"packageStoreRoot,omitempty"`

	// TriggerTimeoutSeconds bounds a whole OAuth attempt when the
	// LaunchSpec does not carry its own timeout. Zero means 300.
	TriggerTimeoutSeconds int `yaml:"triggerTimeoutSeconds,omitempty"`
}

// PortsConfig defines the port range handed out for local OAuth
// redirect listeners.
type PortsConfig struct {
	RangeStart int `yaml:"rangeStart,omitempty"` // default 30000
	RangeEnd   int `yaml:"rangeEnd,omitempty"`   // default 30100
}

// Environment variable names. The first two override the configured port
// range; the last two are consumed by spawned child processes, not by
// this process (documented here because this package owns the contract).
const (
	EnvPortRangeStart = "MCPAUTH_OAUTH_PORT_RANGE_START"
	EnvPortRangeEnd   = "MCPAUTH_OAUTH_PORT_RANGE_END"
	EnvStoreRoot      = "MCPAUTH_STORE_ROOT"

	// EnvCallbackPort is exported to a spawned process when the
	// LaunchSpec carries a callback port.
	EnvCallbackPort = "MCP_OAUTH_CALLBACK_PORT"
)
