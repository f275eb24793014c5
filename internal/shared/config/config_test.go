package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	agentconfig "conduit/internal/agent/config"
	relayconfig "conduit/internal/relay/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig[relayconfig.Config]("", nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0" {
		t.Errorf("Expected default listen_addr '0.0.0.0', got '%s'", cfg.ListenAddr)
	}
	if cfg.ListenPort != 8443 {
		t.Errorf("Expected default listen_port 8443, got %d", cfg.ListenPort)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("Expected default request_timeout 30s, got %v", cfg.RequestTimeout)
	}
	if cfg.RateLimitLongMax != 1000 {
		t.Errorf("Expected default rate_limit_long_max 1000, got %d", cfg.RateLimitLongMax)
	}
	if cfg.RateLimitBurstMax != 100 {
		t.Errorf("Expected default rate_limit_burst_max 100, got %d", cfg.RateLimitBurstMax)
	}
	if cfg.HealthSuccessRateFloor != 0.90 {
		t.Errorf("Expected default health_success_rate_floor 0.90, got %f", cfg.HealthSuccessRateFloor)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	content := `listen_addr: 127.0.0.1
listen_port: 9000
log_level: debug
jwt_secret: test-secret
drain_timeout: 10s
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig[relayconfig.Config](configFile, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1" {
		t.Errorf("Expected listen_addr '127.0.0.1', got '%s'", cfg.ListenAddr)
	}
	if cfg.ListenPort != 9000 {
		t.Errorf("Expected listen_port 9000, got %d", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.JWTSecret != "test-secret" {
		t.Errorf("Expected jwt_secret 'test-secret', got '%s'", cfg.JWTSecret)
	}
	if cfg.DrainTimeout != 10*time.Second {
		t.Errorf("Expected drain_timeout 10s, got %v", cfg.DrainTimeout)
	}

	if cfg.GetListenAddress() != "127.0.0.1:9000" {
		t.Errorf("Expected listen address '127.0.0.1:9000', got '%s'", cfg.GetListenAddress())
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	content := `listen_port: 9000
log_level: info
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	overrides := map[string]interface{}{
		"listen_port": 9443,
		"log_level":   "debug",
	}

	cfg, err := LoadConfig[relayconfig.Config](configFile, overrides)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// CLI overrides win over file values
	if cfg.ListenPort != 9443 {
		t.Errorf("Expected overridden listen_port 9443, got %d", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected overridden log_level 'debug', got '%s'", cfg.LogLevel)
	}
}

func TestLoadConfig_AgentDefaults(t *testing.T) {
	cfg, err := LoadConfig[agentconfig.Config]("", nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.RelayURL != "wss://localhost:8443/tunnel/connect" {
		t.Errorf("Unexpected default relay_url: %s", cfg.RelayURL)
	}
	if cfg.LocalBaseURL != "http://localhost:11434" {
		t.Errorf("Unexpected default local_base_url: %s", cfg.LocalBaseURL)
	}
	if cfg.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("Expected default reconnect_max_delay 30s, got %v", cfg.ReconnectMaxDelay)
	}
}

func TestLoadConfig_MissingFileError(t *testing.T) {
	_, err := LoadConfig[relayconfig.Config]("/nonexistent/path/config.yaml", nil)
	if err == nil {
		t.Error("Expected error for explicitly specified missing config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "nested", "config.yaml")

	original := &agentconfig.Config{
		RelayURL:     "wss://relay.example.com:8443/tunnel/connect",
		Token:        "tok",
		LocalBaseURL: "http://localhost:11434",
		LogLevel:     "debug",
	}

	if err := SaveConfig(configFile, original); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig[agentconfig.Config](configFile, nil)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}

	if loaded.RelayURL != original.RelayURL {
		t.Errorf("Expected relay_url '%s', got '%s'", original.RelayURL, loaded.RelayURL)
	}
	if loaded.Token != original.Token {
		t.Errorf("Expected token '%s', got '%s'", original.Token, loaded.Token)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug', got '%s'", loaded.LogLevel)
	}
}
