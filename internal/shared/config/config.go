package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration with CLI override support
func LoadConfig[T any](configFile string, overrides map[string]interface{}) (*T, error) {
	// Initialize viper
	v := viper.New()

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Look for config in current directory and home directory
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.conduit")
	}

	// Set defaults
	setDefaults(v)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and environment variables
	}

	// Apply CLI overrides
	for key, value := range overrides {
		if value != nil {
			v.Set(key, value)
		}
	}

	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvPrefix("CONDUIT")

	var config T
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// SaveConfig writes the effective configuration to disk as YAML
func SaveConfig(configFile string, config interface{}) error {
	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Relay defaults
	v.SetDefault("listen_addr", "0.0.0.0")
	v.SetDefault("listen_port", 8443)
	v.SetDefault("log_level", "info")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("drain_timeout", "30s")
	v.SetDefault("rate_limit_long_max", 1000)
	v.SetDefault("rate_limit_long_window", "15m")
	v.SetDefault("rate_limit_burst_max", 100)
	v.SetDefault("rate_limit_burst_window", "1m")
	v.SetDefault("health_success_rate_floor", 0.90)
	v.SetDefault("health_timeout_rate_ceiling", 0.10)
	v.SetDefault("health_latency_ceiling", "5s")

	// Agent defaults
	v.SetDefault("relay_url", "wss://localhost:8443/tunnel/connect")
	v.SetDefault("local_base_url", "http://localhost:11434")
	v.SetDefault("reconnect_max_delay", "30s")
}
