package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := Config{
		RelayURL:     "wss://relay.example.com/tunnel/connect",
		Token:        "tok",
		LocalBaseURL: "http://localhost:11434",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing relay url", func(c *Config) { c.RelayURL = "" }},
		{"wrong scheme", func(c *Config) { c.RelayURL = "https://relay.example.com" }},
		{"missing token", func(c *Config) { c.Token = "" }},
		{"missing local url", func(c *Config) { c.LocalBaseURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsPlainWS(t *testing.T) {
	cfg := Config{
		RelayURL:     "ws://localhost:8443/tunnel/connect",
		Token:        "tok",
		LocalBaseURL: "http://localhost:11434",
	}
	assert.NoError(t, cfg.Validate())
}
