package taskgraph

import (
	"os"
	"sync"
)

// Environment variables read by LoadConfig.
const (
	EnvPluginModule = "TASKGRAPH_PLUGIN_MODULE"
	EnvLogLevel     = "TASKGRAPH_LOG_LEVEL"
)

// Config holds process-wide settings.
type Config struct {
	// PluginModule is a module file whose exports join the default registry.
	PluginModule string

	// LogLevel is one of debug, info, warn or error.
	LogLevel string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() Config {
	cfg := Config{
		PluginModule: os.Getenv(EnvPluginModule),
		LogLevel:     os.Getenv(EnvLogLevel),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

var processConfig = sync.OnceValue(LoadConfig)

// ProcessConfig returns the configuration read once at first use.
func ProcessConfig() Config {
	return processConfig()
}
