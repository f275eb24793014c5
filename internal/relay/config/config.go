package config

import (
	"fmt"
	"time"
)

// Config holds relay server configuration
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	ListenPort int    `mapstructure:"listen_port" yaml:"listen_port"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	// TLS is optional; when unset the relay serves plain HTTP behind a
	// terminating load balancer
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`

	// JWTSecret signs and verifies bearer credentials; ignored when the
	// secret is fetched from AWS Secrets Manager
	JWTSecret          string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	UseSecretsManager  bool   `mapstructure:"use_secrets_manager" yaml:"use_secrets_manager"`
	SecretsManagerName string `mapstructure:"secrets_manager_name" yaml:"secrets_manager_name"`

	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`

	RateLimitLongMax     int           `mapstructure:"rate_limit_long_max" yaml:"rate_limit_long_max"`
	RateLimitLongWindow  time.Duration `mapstructure:"rate_limit_long_window" yaml:"rate_limit_long_window"`
	RateLimitBurstMax    int           `mapstructure:"rate_limit_burst_max" yaml:"rate_limit_burst_max"`
	RateLimitBurstWindow time.Duration `mapstructure:"rate_limit_burst_window" yaml:"rate_limit_burst_window"`

	// Health thresholds are operational tuning, not design constants
	HealthSuccessRateFloor   float64       `mapstructure:"health_success_rate_floor" yaml:"health_success_rate_floor"`
	HealthTimeoutRateCeiling float64       `mapstructure:"health_timeout_rate_ceiling" yaml:"health_timeout_rate_ceiling"`
	HealthLatencyCeiling     time.Duration `mapstructure:"health_latency_ceiling" yaml:"health_latency_ceiling"`
}

// GetListenAddress returns the full listen address
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.JWTSecret == "" && !c.UseSecretsManager {
		return fmt.Errorf("jwt_secret is required unless use_secrets_manager is set")
	}
	if c.UseSecretsManager && c.SecretsManagerName == "" {
		return fmt.Errorf("secrets_manager_name is required when use_secrets_manager is set")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	return nil
}
