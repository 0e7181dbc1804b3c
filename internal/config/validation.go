package config

import (
	"fmt"
	"net/url"
	"slices"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values common to every command.
// Returns sentinel errors that can be checked with errors.Is().
//
// The gateway API key is deliberately not checked here: commands that
// never talk to the gateway (migrate) must run without an AI credential.
// Commands that do call ValidateServe.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidGatewayURL, c.GatewayURL)
	}

	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model cannot be empty", ErrInvalidChatModel)
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("%w: embed_model cannot be empty", ErrInvalidEmbedModel)
	}

	// Retrieval validation. pgvector indexes cap out at 2000 dimensions.
	if c.EmbedDimension < 1 || c.EmbedDimension > 2000 {
		return fmt.Errorf("%w: must be between 1 and 2000, got %d", ErrInvalidEmbedDimension, c.EmbedDimension)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidThreshold, c.Threshold)
	}
	if c.HistoryLimit < 0 || c.HistoryLimit > 100 {
		return fmt.Errorf("%w: must be between 0 and 100, got %d", ErrInvalidHistoryLimit, c.HistoryLimit)
	}

	// PostgreSQL validation.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (valid: %v)", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe validates everything Validate does plus the settings only
// AI-backed commands need. Without the API key the process cannot serve a
// single request, so serve and backfill fail at startup.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.GatewayAPIKey == "" {
		return fmt.Errorf("%w: GATEWAY_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	return nil
}
