package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds desktop agent configuration
type Config struct {
	// RelayURL is the relay's tunnel connect endpoint, e.g.
	// wss://relay.example.com:8443/tunnel/connect
	RelayURL string `mapstructure:"relay_url" yaml:"relay_url"`

	// Token is the bearer credential presented when dialing the relay
	Token string `mapstructure:"token" yaml:"token"`

	// LocalBaseURL is the local model server requests are forwarded to
	LocalBaseURL string `mapstructure:"local_base_url" yaml:"local_base_url"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// RequestTimeout bounds each forwarded request against the local server
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// ReconnectMaxDelay caps the exponential reconnect backoff
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay_url is required")
	}
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("relay_url must use ws:// or wss:// scheme")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.LocalBaseURL == "" {
		return fmt.Errorf("local_base_url is required")
	}
	return nil
}
