package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	agentConfig "conduit/internal/agent/config"
	"conduit/internal/agent/forward"
	"conduit/internal/agent/tunnel"
	"conduit/internal/shared/config"
	"conduit/internal/shared/logging"
)

var (
	configFile   string
	relayURL     string
	token        string
	localBaseURL string
	logLevel     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conduit-agent",
		Short: "Conduit desktop agent",
		Long:  "Conduit desktop agent - Maintains an outbound tunnel to the relay and forwards proxied requests to the local model server",
		RunE:  runAgent,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.Flags().StringVar(&relayURL, "relay-url", "", "Relay tunnel endpoint (wss://...)")
	rootCmd.Flags().StringVar(&token, "token", "", "Tunnel credential")
	rootCmd.Flags().StringVar(&localBaseURL, "local-url", "", "Local model server base URL")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("agent")

	overrides := make(map[string]interface{})
	if relayURL != "" {
		overrides["relay_url"] = relayURL
	}
	if token != "" {
		overrides["token"] = token
	}
	if localBaseURL != "" {
		overrides["local_base_url"] = localBaseURL
	}
	if logLevel != "" {
		overrides["log_level"] = logLevel
	}

	cfg, err := config.LoadConfig[agentConfig.Config](configFile, overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Persist CLI-provided settings so the next launch needs no flags
	if (relayURL != "" || token != "") && configFile != "" {
		if err := config.SaveConfig(configFile, cfg); err != nil {
			logger.Warn("Failed to save updated configuration", "error", err.Error())
		}
	}

	logger.Info("Starting Conduit agent",
		"relay_url", cfg.RelayURL,
		"local_url", cfg.LocalBaseURL,
		"log_level", cfg.LogLevel)

	executor := forward.NewExecutor(cfg.LocalBaseURL, cfg.RequestTimeout)
	client := tunnel.NewClient(cfg.RelayURL, cfg.Token, executor, cfg.ReconnectMaxDelay)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- client.Run(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping agent...")
		cancel()
		<-runErrChan
	case err := <-runErrChan:
		if err != nil && ctx.Err() == nil {
			logger.Error("Tunnel client stopped", err)
			return err
		}
	}

	logger.Info("Agent stopped")
	return nil
}
