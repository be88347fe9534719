package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
tenant:
  id: "test-tenant"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
pairing:
  challenge_ttl: 300
  max_attempts: 3
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tenant.ID != "test-tenant" {
		t.Errorf("Tenant.ID = %q, want %q", cfg.Tenant.ID, "test-tenant")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Unset sections should carry defaults.
	if cfg.Health.CheckInterval != 30 {
		t.Errorf("Health.CheckInterval = %d, want default 30", cfg.Health.CheckInterval)
	}
	if cfg.Session.RotationGrace != 300 {
		t.Errorf("Session.RotationGrace = %d, want default 300", cfg.Session.RotationGrace)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(_ *Config) {}, false},
		{"missing tenant id", func(c *Config) { c.Tenant.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"bad port", func(c *Config) { c.API.Port = 0 }, true},
		{"missing issuer", func(c *Config) { c.Security.JWT.Issuer = "" }, true},
		{"zero challenge ttl", func(c *Config) { c.Pairing.ChallengeTTL = 0 }, true},
		{"backoff cap below base", func(c *Config) { c.Health.BackoffCap = 1 }, true},
		{"thresholds inverted", func(c *Config) { c.Sandbox.ModerateThreshold = 99 }, true},
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HARDPOINT_TENANT_ID", "env-tenant")
	t.Setenv("HARDPOINT_API_PORT", "9999")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Tenant.ID != "env-tenant" {
		t.Errorf("Tenant.ID = %q, want env override", cfg.Tenant.ID)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetChallengeTTL(); got != 300*time.Second {
		t.Errorf("GetChallengeTTL() = %v, want 300s", got)
	}
	if got := cfg.GetRotationGrace(); got != 5*time.Minute {
		t.Errorf("GetRotationGrace() = %v, want 5m", got)
	}
	if got := cfg.GetHealthCheckInterval(); got != 30*time.Second {
		t.Errorf("GetHealthCheckInterval() = %v, want 30s", got)
	}
}
