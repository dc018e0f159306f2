// Package config loads the controller configuration from defaults, an
// optional JSON file and LOCOLOCO_* environment overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dededodu/locoloco/errors"
)

// Config is the complete controller configuration.
type Config struct {
	// HTTPAddr is the REST and websocket listen address.
	HTTPAddr string `json:"http_addr"`

	// Device listener addresses, one TCP port per device class.
	LocoAddr     string `json:"loco_addr"`
	SensorAddr   string `json:"sensor_addr"`
	ActuatorAddr string `json:"actuator_addr"`

	// RegisterGrace bounds how long a fresh connection may take to send
	// its Register frame.
	RegisterGrace Duration `json:"register_grace"`

	// HeartbeatTimeout marks a session stale; StaleTimeout on top of it
	// closes the session.
	HeartbeatTimeout Duration `json:"heartbeat_timeout"`
	StaleTimeout     Duration `json:"stale_timeout"`

	// WriteTimeout bounds a single frame write to a device.
	WriteTimeout Duration `json:"write_timeout"`

	// CommandTimeout bounds the wait for a device acknowledgment.
	CommandTimeout Duration `json:"command_timeout"`

	// SilenceTimeout evicts offline loco records with no recent report.
	SilenceTimeout Duration `json:"silence_timeout"`

	// OracleTick is the automation supervision period.
	OracleTick Duration `json:"oracle_tick"`

	// TopologyPath selects a layout definition file. Empty uses the
	// built-in reference layout.
	TopologyPath string `json:"topology_path"`

	// NATSURL enables the event publisher when set.
	NATSURL string `json:"nats_url"`

	// Logging.
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Duration is a time.Duration that marshals as a string ("30s").
type Duration time.Duration

// UnmarshalJSON accepts "30s" strings and bare nanosecond numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	default:
		return fmt.Errorf("invalid duration %q", string(data))
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file or overrides are
// given. The listener ports match the reference installation.
func Default() *Config {
	return &Config{
		HTTPAddr:         ":8080",
		LocoAddr:         ":8004",
		SensorAddr:       ":8005",
		ActuatorAddr:     ":8006",
		RegisterGrace:    Duration(5 * time.Second),
		HeartbeatTimeout: Duration(10 * time.Second),
		StaleTimeout:     Duration(30 * time.Second),
		WriteTimeout:     Duration(5 * time.Second),
		CommandTimeout:   Duration(3 * time.Second),
		SilenceTimeout:   Duration(5 * time.Minute),
		OracleTick:       Duration(100 * time.Millisecond),
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds the configuration: defaults, then the JSON file at path if
// path is non-empty, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envPrefix namespaces the controller's environment variables.
const envPrefix = "LOCOLOCO"

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(envPrefix + "_" + key); val != "" {
			*dst = val
		}
	}
	setDuration := func(key string, dst *Duration) {
		val := os.Getenv(envPrefix + "_" + key)
		if val == "" {
			return
		}
		if parsed, err := time.ParseDuration(val); err == nil {
			*dst = Duration(parsed)
		} else if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = Duration(time.Duration(n) * time.Second)
		}
	}

	setString("HTTP_ADDR", &cfg.HTTPAddr)
	setString("LOCO_ADDR", &cfg.LocoAddr)
	setString("SENSOR_ADDR", &cfg.SensorAddr)
	setString("ACTUATOR_ADDR", &cfg.ActuatorAddr)
	setString("TOPOLOGY_PATH", &cfg.TopologyPath)
	setString("NATS_URL", &cfg.NATSURL)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)
	setDuration("REGISTER_GRACE", &cfg.RegisterGrace)
	setDuration("HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout)
	setDuration("STALE_TIMEOUT", &cfg.StaleTimeout)
	setDuration("WRITE_TIMEOUT", &cfg.WriteTimeout)
	setDuration("COMMAND_TIMEOUT", &cfg.CommandTimeout)
	setDuration("SILENCE_TIMEOUT", &cfg.SilenceTimeout)
	setDuration("ORACLE_TICK", &cfg.OracleTick)
}

// Validate checks field values and cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(fmt.Errorf("%s", msg), "config", "Validate", "field check")
	}

	if c.HTTPAddr == "" {
		return invalid("http_addr is required")
	}
	if c.LocoAddr == "" || c.SensorAddr == "" || c.ActuatorAddr == "" {
		return invalid("loco_addr, sensor_addr and actuator_addr are required")
	}
	addrs := map[string]string{
		c.LocoAddr:     "loco_addr",
		c.SensorAddr:   "sensor_addr",
		c.ActuatorAddr: "actuator_addr",
	}
	if len(addrs) != 3 {
		return invalid("listener addresses must be distinct")
	}
	if _, clash := addrs[c.HTTPAddr]; clash {
		return invalid("http_addr clashes with a listener address")
	}
	if c.RegisterGrace <= 0 {
		return invalid("register_grace must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return invalid("heartbeat_timeout must be positive")
	}
	if c.StaleTimeout <= 0 {
		return invalid("stale_timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return invalid("write_timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return invalid("command_timeout must be positive")
	}
	if c.SilenceTimeout < 0 {
		return invalid("silence_timeout must not be negative")
	}
	if c.OracleTick <= 0 {
		return invalid("oracle_tick must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log_format must be text or json")
	}
	return nil
}

// String returns an indented JSON rendering for startup logs.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
