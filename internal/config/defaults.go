package config

import (
	"os"
	"path/filepath"
)

const (
	// DefaultPortRangeStart and DefaultPortRangeEnd bound the callback
	// port allocator when no range is configured.
	DefaultPortRangeStart = 30000
	DefaultPortRangeEnd   = 30100

	// DefaultTriggerTimeoutSeconds is the per-attempt budget.
	DefaultTriggerTimeoutSeconds = 300

	defaultStoreDirName = ".mcpauth"
)

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() Config {
	return Config{
		Ports: PortsConfig{
			RangeStart: DefaultPortRangeStart,
			RangeEnd:   DefaultPortRangeEnd,
		},
		PackageStoreRoot:      defaultStoreRoot(),
		TriggerTimeoutSeconds: DefaultTriggerTimeoutSeconds,
	}
}

func defaultStoreRoot() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// No resolvable home; fall back to the working directory so the
		// engine stays usable in containers with no passwd entry.
		return defaultStoreDirName
	}
	return filepath.Join(homeDir, defaultStoreDirName)
}
