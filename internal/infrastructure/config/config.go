package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hardpoint Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Tenant    TenantConfig    `yaml:"tenant"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Session   SessionConfig   `yaml:"session"`
	Health    HealthConfig    `yaml:"health"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// TenantConfig identifies the venue this daemon supervises devices for.
type TenantConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains session token settings.
//
// Signing keys are NOT configured here: they are generated in memory at
// startup and rotated by the session keystore, never written to disk.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	// KeyTTL is the lifetime of an in-memory signing key (minutes).
	KeyTTL int `yaml:"key_ttl"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// PairingConfig contains pairing protocol settings.
type PairingConfig struct {
	// ChallengeTTL is the challenge lifetime in seconds. Default 300.
	ChallengeTTL int `yaml:"challenge_ttl"`
	// MaxAttempts is the number of failed responses before the challenge
	// is destroyed. Default 3.
	MaxAttempts int `yaml:"max_attempts"`
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	// RotationGrace is the overlap window in seconds during which the old
	// token remains valid after rotation. Default 300.
	RotationGrace int `yaml:"rotation_grace"`
}

// HealthConfig contains health monitoring settings.
type HealthConfig struct {
	// CheckInterval is the per-device health check interval (seconds). Default 30.
	CheckInterval int `yaml:"check_interval"`
	// MaxReconnectAttempts before a device is marked offline. Default 5.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// BackoffBase is the first reconnection delay (seconds). Default 5.
	BackoffBase int `yaml:"backoff_base"`
	// BackoffCap is the maximum reconnection delay (seconds). Default 80.
	BackoffCap int `yaml:"backoff_cap"`
}

// RecoveryConfig contains fault recovery settings.
type RecoveryConfig struct {
	// PaperPollInterval is how often to check for consumable replacement (seconds). Default 10.
	PaperPollInterval int `yaml:"paper_poll_interval"`
	// PaperPollTimeout caps how long to keep polling (seconds). Default 3600.
	PaperPollTimeout int `yaml:"paper_poll_timeout"`
	// ReconnectInterval is the cadence of reachability probes for an
	// offline device (seconds). Default 60.
	ReconnectInterval int `yaml:"reconnect_interval"`
}

// SandboxConfig contains sandbox enforcement settings.
type SandboxConfig struct {
	// MonitorInterval is the resource sampling interval (seconds). Default 10.
	MonitorInterval int `yaml:"monitor_interval"`
	// SevereThreshold is the CPU/memory percentage that triggers immediate
	// termination. Default 95.
	SevereThreshold float64 `yaml:"severe_threshold"`
	// ModerateThreshold is the percentage that triggers throttling. Default 80.
	ModerateThreshold float64 `yaml:"moderate_threshold"`
}

// SchedulerConfig contains supervisory task scheduler settings.
type SchedulerConfig struct {
	// Workers bounds concurrent task execution across all devices.
	// Default 8; size to the tenant's device count, not per-device.
	Workers int `yaml:"workers"`
	// QueueSize is the dispatch channel buffer. Default 256.
	QueueSize int `yaml:"queue_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HARDPOINT_SECTION_KEY
// For example: HARDPOINT_DATABASE_PATH, HARDPOINT_API_PORT
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Tenant: TenantConfig{
			ID:       "tenant-001",
			Name:     "Hardpoint",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/hardpoint.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hardpoint-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:   "hardpoint-core",
				Audience: "hardpoint-devices",
				KeyTTL:   1440,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
		Pairing: PairingConfig{
			ChallengeTTL: 300,
			MaxAttempts:  3,
		},
		Session: SessionConfig{
			RotationGrace: 300,
		},
		Health: HealthConfig{
			CheckInterval:        30,
			MaxReconnectAttempts: 5,
			BackoffBase:          5,
			BackoffCap:           80,
		},
		Recovery: RecoveryConfig{
			PaperPollInterval: 10,
			PaperPollTimeout:  3600,
			ReconnectInterval: 60,
		},
		Sandbox: SandboxConfig{
			MonitorInterval:   10,
			SevereThreshold:   95,
			ModerateThreshold: 80,
		},
		Scheduler: SchedulerConfig{
			Workers:   8,
			QueueSize: 256,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HARDPOINT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Tenant
	if v := os.Getenv("HARDPOINT_TENANT_ID"); v != "" {
		cfg.Tenant.ID = v
	}

	// Database
	if v := os.Getenv("HARDPOINT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HARDPOINT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HARDPOINT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HARDPOINT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HARDPOINT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HARDPOINT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("HARDPOINT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Tenant validation
	if c.Tenant.ID == "" {
		errs = append(errs, "tenant.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation
	if c.Security.JWT.Issuer == "" {
		errs = append(errs, "security.jwt.issuer is required")
	}
	if c.Security.JWT.Audience == "" {
		errs = append(errs, "security.jwt.audience is required")
	}

	// Pairing validation
	if c.Pairing.ChallengeTTL < 1 {
		errs = append(errs, "pairing.challenge_ttl must be positive")
	}
	if c.Pairing.MaxAttempts < 1 {
		errs = append(errs, "pairing.max_attempts must be positive")
	}

	// Health validation
	if c.Health.CheckInterval < 1 {
		errs = append(errs, "health.check_interval must be positive")
	}
	if c.Health.BackoffBase < 1 || c.Health.BackoffCap < c.Health.BackoffBase {
		errs = append(errs, "health backoff settings must satisfy 1 <= backoff_base <= backoff_cap")
	}

	// Sandbox validation
	if c.Sandbox.ModerateThreshold >= c.Sandbox.SevereThreshold {
		errs = append(errs, "sandbox.moderate_threshold must be below sandbox.severe_threshold")
	}

	// Scheduler validation
	if c.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler.workers must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetChallengeTTL returns the pairing challenge lifetime as a Duration.
func (c *Config) GetChallengeTTL() time.Duration {
	return time.Duration(c.Pairing.ChallengeTTL) * time.Second
}

// GetRotationGrace returns the session rotation grace window as a Duration.
func (c *Config) GetRotationGrace() time.Duration {
	return time.Duration(c.Session.RotationGrace) * time.Second
}

// GetHealthCheckInterval returns the health check interval as a Duration.
func (c *Config) GetHealthCheckInterval() time.Duration {
	return time.Duration(c.Health.CheckInterval) * time.Second
}
