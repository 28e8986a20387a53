package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Simhaus.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Simulation SimulationConfig `yaml:"simulation"`
	Broker     EmbeddedConfig   `yaml:"embedded_broker"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// ConnectTimeout is the initial connection timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
//
// MaxAttempts bounds the retry budget after a mid-run connection loss.
// 0 means retry forever; a positive value makes the process give up and
// exit once the budget is spent.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// SimulationConfig contains the device fleet and scheduling settings.
type SimulationConfig struct {
	// TopicBase is the root of every topic the simulator publishes or
	// subscribes to, e.g. "simhaus" gives "simhaus/sensor/temperature-sensor/<id>/state".
	TopicBase string `yaml:"topic_base"`

	// PublishInterval is the base telemetry interval per device, in seconds.
	PublishInterval int `yaml:"publish_interval"`

	// Jitter is the fraction of PublishInterval used as the random offset
	// bound when rescheduling a device (0.2 means +/-20%).
	Jitter float64 `yaml:"jitter"`

	// Workers is the size of the tick worker pool shared by all devices.
	Workers int `yaml:"workers"`

	// RetainTelemetry controls the retain flag on scheduled sensor
	// publishes. Command echoes from actuators are always retained.
	RetainTelemetry bool `yaml:"retain_telemetry"`

	// Devices maps a device type identifier to the number of instances
	// to simulate.
	Devices map[string]int `yaml:"devices"`
}

// EmbeddedConfig contains settings for the optional in-process MQTT broker.
// When enabled, the simulator serves its own broker and connects to it,
// so no external broker is required.
type EmbeddedConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SIMHAUS_SECTION_KEY
// For example: SIMHAUS_MQTT_HOST, SIMHAUS_TOPIC_BASE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration: a local unauthenticated
// broker and the device population of a small house. Used when no config
// file is given on the command line.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "simhaus",
			},
			QoS:            1,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Simulation: SimulationConfig{
			TopicBase:       "simhaus",
			PublishInterval: 60,
			Jitter:          0.2,
			Workers:         8,
			Devices: map[string]int{
				"temperature-sensor": 7,
				"motion-sensor":      7,
				"window-sensor":      7,
				"door-sensor":        2,
				"smoke-sensor":       4,
				"led-bulb":           8,
				"fire-alarm":         4,
				"shutter":            7,
				"door-opener":        4,
				"thermostat":         7,
			},
		},
		Broker: EmbeddedConfig{
			Enabled: false,
			Port:    1883,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SIMHAUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SIMHAUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SIMHAUS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SIMHAUS_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("SIMHAUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SIMHAUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("SIMHAUS_MQTT_QOS"); v != "" {
		if qos, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.QoS = qos
		}
	}
	if v := os.Getenv("SIMHAUS_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if attempts, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Reconnect.MaxAttempts = attempts
		}
	}

	// Simulation
	if v := os.Getenv("SIMHAUS_TOPIC_BASE"); v != "" {
		cfg.Simulation.TopicBase = v
	}
	if v := os.Getenv("SIMHAUS_PUBLISH_INTERVAL"); v != "" {
		if interval, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.PublishInterval = interval
		}
	}
	if v := os.Getenv("SIMHAUS_JITTER"); v != "" {
		if jitter, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Simulation.Jitter = jitter
		}
	}
	if v := os.Getenv("SIMHAUS_WORKERS"); v != "" {
		if workers, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Workers = workers
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	// Simulation validation
	if c.Simulation.TopicBase == "" {
		errs = append(errs, "simulation.topic_base is required")
	}
	if strings.ContainsAny(c.Simulation.TopicBase, "+#/") {
		errs = append(errs, "simulation.topic_base must be a single topic level without wildcards")
	}
	if c.Simulation.PublishInterval < 1 {
		errs = append(errs, "simulation.publish_interval must be at least 1 second")
	}
	if c.Simulation.Jitter < 0 || c.Simulation.Jitter >= 1 {
		errs = append(errs, "simulation.jitter must be in [0, 1)")
	}
	if c.Simulation.Workers < 1 {
		errs = append(errs, "simulation.workers must be at least 1")
	}
	for deviceType, count := range c.Simulation.Devices {
		if count < 0 {
			errs = append(errs, fmt.Sprintf("simulation.devices[%s] must not be negative", deviceType))
		}
	}

	// Embedded broker validation
	if c.Broker.Enabled && (c.Broker.Port < 1 || c.Broker.Port > 65535) {
		errs = append(errs, "embedded_broker.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the MQTT connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// GetPublishInterval returns the base telemetry interval as a Duration.
func (c *Config) GetPublishInterval() time.Duration {
	return time.Duration(c.Simulation.PublishInterval) * time.Second
}

// DeviceCount returns the total number of configured devices across all types.
func (c *Config) DeviceCount() int {
	total := 0
	for _, n := range c.Simulation.Devices {
		total += n
	}
	return total
}
