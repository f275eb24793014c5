// Package secrets fetches the relay signing secret from AWS Secrets
// Manager, with a local fallback for development.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"conduit/internal/shared/logging"
)

// SigningSecret is the structure of the relay secret in Secrets Manager
type SigningSecret struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoadSigningSecret retrieves the JWT signing secret from AWS Secrets
// Manager. The secret value may be the raw secret string or a JSON
// object with a jwt_secret field.
func LoadSigningSecret(ctx context.Context, secretName string) (string, error) {
	logger := logging.NewLogger("secrets")
	logger.Info("Loading signing secret from AWS Secrets Manager", "secret_name", secretName)

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)

	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret from AWS Secrets Manager: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretName)
	}

	raw := *result.SecretString

	var parsed SigningSecret
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.JWTSecret != "" {
		return parsed.JWTSecret, nil
	}

	return raw, nil
}

// SaveSigningSecret stores the JWT signing secret in Secrets Manager.
// Utility for initial provisioning; creates the secret or updates it if
// it already exists.
func SaveSigningSecret(ctx context.Context, secretName, secret string) error {
	logger := logging.NewLogger("secrets")
	logger.Info("Saving signing secret to AWS Secrets Manager", "secret_name", secretName)

	payload, err := json.Marshal(SigningSecret{JWTSecret: secret})
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)

	_, err = client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(secretName),
		SecretString: aws.String(string(payload)),
	})
	if err == nil {
		logger.Info("Created signing secret", "secret_name", secretName)
		return nil
	}

	_, updateErr := client.UpdateSecret(ctx, &secretsmanager.UpdateSecretInput{
		SecretId:     aws.String(secretName),
		SecretString: aws.String(string(payload)),
	})
	if updateErr != nil {
		return fmt.Errorf("failed to update secret: %w (original create error: %w)", updateErr, err)
	}

	logger.Info("Updated existing signing secret", "secret_name", secretName)
	return nil
}

// LoadSigningSecretOrFallback attempts Secrets Manager first, falling
// back to the locally configured secret
func LoadSigningSecretOrFallback(ctx context.Context, secretName, fallback string) string {
	logger := logging.NewLogger("secrets")

	secret, err := LoadSigningSecret(ctx, secretName)
	if err == nil {
		logger.Info("Loaded signing secret from AWS Secrets Manager")
		return secret
	}

	logger.Warn("Failed to load signing secret from AWS Secrets Manager, using configured secret",
		"error", err.Error())
	return fallback
}
