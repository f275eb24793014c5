package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/relay/auth"
	relayConfig "conduit/internal/relay/config"
	"conduit/internal/relay/server"
	"conduit/internal/shared/config"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/secrets"
)

var (
	configFile string
	listenAddr string
	listenPort int
	logLevel   string
	certFile   string
	keyFile    string
	jwtSecret  string

	tokenUser string
	tokenTTL  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conduit-relay",
		Short: "Conduit tunnel relay",
		Long:  "Conduit tunnel relay - Accepts tunnel connections from desktop agents and proxies HTTP requests to them",
		RunE:  runRelay,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "", "Address to listen on")
	rootCmd.Flags().IntVar(&listenPort, "listen-port", 0, "Port to listen on")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file")
	rootCmd.Flags().StringVar(&keyFile, "key", "", "TLS private key file")
	rootCmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "Token signing secret")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a tunnel credential for a user",
		RunE:  runToken,
	}
	tokenCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	tokenCmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "Token signing secret")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User identity to mint the token for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadRelayConfig() (*relayConfig.Config, error) {
	overrides := make(map[string]interface{})
	if listenAddr != "" {
		overrides["listen_addr"] = listenAddr
	}
	if listenPort != 0 {
		overrides["listen_port"] = listenPort
	}
	if logLevel != "" {
		overrides["log_level"] = logLevel
	}
	if certFile != "" {
		overrides["cert_file"] = certFile
	}
	if keyFile != "" {
		overrides["key_file"] = keyFile
	}
	if jwtSecret != "" {
		overrides["jwt_secret"] = jwtSecret
	}

	cfg, err := config.LoadConfig[relayConfig.Config](configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("relay")

	cfg, err := loadRelayConfig()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Info("Starting Conduit relay",
		"listen_addr", cfg.GetListenAddress(),
		"log_level", cfg.LogLevel)

	srv, err := server.NewServer(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, draining relay...")
	case err := <-serverErrChan:
		logger.Error("Relay server error", err)
		return err
	}

	report := srv.Stop()
	logger.Info("Relay stopped",
		"duration", report.Duration.String(),
		"connections_closed", report.ConnectionsClosed,
		"requests_drained", report.RequestsDrained,
		"requests_forced", report.RequestsForced)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadRelayConfig()
	if err != nil {
		return err
	}

	secret := cfg.JWTSecret
	if cfg.UseSecretsManager {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		secret = secrets.LoadSigningSecretOrFallback(ctx, cfg.SecretsManagerName, cfg.JWTSecret)
	}

	validator, err := auth.NewValidator(secret)
	if err != nil {
		return err
	}

	token, err := validator.GenerateToken(tokenUser, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Println(token)
	return nil
}
