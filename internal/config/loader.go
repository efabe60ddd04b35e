package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mcpauth/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpauth"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the user-level config directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the given directory. A missing
// config.yaml is not an error; built-in defaults are used. Environment
// variables override whatever the file provided.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnvOverrides(&config)
			return normalize(config), nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)

	applyEnvOverrides(&config)
	return normalize(config), nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv(EnvPortRangeStart); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Ports.RangeStart = n
		} else {
			logging.Warn("ConfigLoader", "Ignoring invalid %s=%q", EnvPortRangeStart, v)
		}
	}
	if v := os.Getenv(EnvPortRangeEnd); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Ports.RangeEnd = n
		} else {
			logging.Warn("ConfigLoader", "Ignoring invalid %s=%q", EnvPortRangeEnd, v)
		}
	}
	if v := os.Getenv(EnvStoreRoot); v != "" {
		config.PackageStoreRoot = v
	}
}

// normalize clamps the port range to the unprivileged space and falls
// back to defaults when the range is empty or inverted.
func normalize(config Config) Config {
	if config.Ports.RangeStart < 1024 {
		config.Ports.RangeStart = 1024
	}
	if config.Ports.RangeEnd > 65535 {
		config.Ports.RangeEnd = 65535
	}
	if config.Ports.RangeStart >= config.Ports.RangeEnd {
		logging.Warn("ConfigLoader", "Invalid port range %d-%d, using defaults %d-%d",
			config.Ports.RangeStart, config.Ports.RangeEnd, DefaultPortRangeStart, DefaultPortRangeEnd)
		config.Ports.RangeStart = DefaultPortRangeStart
		config.Ports.RangeEnd = DefaultPortRangeEnd
	}
	if config.TriggerTimeoutSeconds <= 0 {
		config.TriggerTimeoutSeconds = DefaultTriggerTimeoutSeconds
	}
	if config.PackageStoreRoot == "" {
		config.PackageStoreRoot = defaultStoreRoot()
	}
	return config
}
