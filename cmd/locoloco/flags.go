package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line flag values.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags parses command-line flags with environment variable fallbacks.
func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("LOCOLOCO_CONFIG", ""),
		"Path to configuration file (JSON)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("LOCOLOCO_CONFIG", ""),
		"Path to configuration file (shorthand)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LOCOLOCO_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (overrides config file)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LOCOLOCO_LOG_FORMAT", ""),
		"Log format: text, json (overrides config file)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LOCOLOCO_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Maximum time to wait for graceful shutdown")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show detailed help and exit")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show detailed help (shorthand)")
	flag.BoolVar(&cfg.Validate, "validate", false,
		"Validate configuration and exit")

	flag.Parse()

	return cfg
}

// validateFlags checks flag values that can be rejected before loading the
// configuration file.
func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel != "" {
		switch cfg.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid log level %q (use debug, info, warn or error)", cfg.LogLevel)
		}
	}
	if cfg.LogFormat != "" {
		switch cfg.LogFormat {
		case "text", "json":
		default:
			return fmt.Errorf("invalid log format %q (use text or json)", cfg.LogFormat)
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	return nil
}

// printDetailedHelp prints usage information with examples.
func printDetailedHelp() {
	fmt.Printf(`%s %s

The locoloco controller drives a model locomotive layout. It accepts TCP
connections from locos, sensors and actuators, tracks loco positions from
RFID sensor reports, and exposes an HTTP API plus a websocket status
stream for operators.

USAGE:
  %s [flags]

FLAGS:
`, appName, Version, appName)
	flag.PrintDefaults()
	fmt.Printf(`
ENVIRONMENT:
  Every configuration field may be overridden with a LOCOLOCO_ prefixed
  environment variable, for example LOCOLOCO_HTTP_ADDR or
  LOCOLOCO_COMMAND_TIMEOUT. Flags take precedence over the environment.

EXAMPLES:
  # Run with the built-in reference layout and defaults
  %s

  # Run with a configuration file
  %s -config /etc/locoloco/config.json

  # Validate a configuration file without starting
  %s -config config.json -validate

  # Debug logging in JSON
  %s -log-level debug -log-format json
`, appName, appName, appName, appName)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
// Bare integers are interpreted as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
