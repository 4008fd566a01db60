// Package vault reads the deployment API token from HashiCorp Vault.
// It supports token and AppRole authentication and reads from both KV v1
// and KV v2 secrets engines.
package vault

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// Config holds Vault configuration including address and authentication details.
type Config struct {
	// Address is the Vault server address (e.g., "https://vault.internal:8200")
	Address string

	// Auth holds authentication configuration
	Auth AuthConfig

	// Path is the secret path (e.g., "secret/data/cloud-ship")
	Path string

	// Key is the field within the secret holding the token (default "token")
	Key string

	// TLSSkipVerify skips TLS certificate verification
	TLSSkipVerify bool
}

// AuthConfig specifies the authentication method and credentials.
type AuthConfig struct {
	// Method is the auth method: "token" or "approle"
	Method string

	// Token for token authentication
	Token string

	// RoleID for AppRole authentication
	RoleID string

	// SecretID for AppRole authentication
	SecretID string
}

// Client wraps the Vault API client.
type Client struct {
	client *vault.Client
	config *Config
}

// NewClient creates a Vault client for config. It does not authenticate.
func NewClient(config *Config) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address

	if config.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	// Ignore any VAULT_TOKEN from the environment; Authenticate sets it.
	client.ClearToken()

	return &Client{
		client: client,
		config: config,
	}, nil
}

// Authenticate authenticates to Vault using the configured auth method.
// An empty method means "token".
func (c *Client) Authenticate(ctx context.Context) error {
	switch c.config.Auth.Method {
	case "", "token":
		if c.config.Auth.Token == "" {
			return fmt.Errorf("vault token is required for token authentication")
		}
		c.client.SetToken(c.config.Auth.Token)
		return nil

	case "approle":
		return c.authenticateWithAppRole(ctx)

	default:
		return fmt.Errorf("unsupported auth method: %s", c.config.Auth.Method)
	}
}

func (c *Client) authenticateWithAppRole(ctx context.Context) error {
	if c.config.Auth.RoleID == "" {
		return fmt.Errorf("role_id is required for approle authentication")
	}
	if c.config.Auth.SecretID == "" {
		return fmt.Errorf("secret_id is required for approle authentication")
	}

	resp, err := c.client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
		"role_id":   c.config.Auth.RoleID,
		"secret_id": c.config.Auth.SecretID,
	})
	if err != nil {
		return fmt.Errorf("approle login failed: %w", err)
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return fmt.Errorf("approle login returned no auth token")
	}

	c.client.SetToken(resp.Auth.ClientToken)
	return nil
}

// GetSecret reads key from the secret at path. KV v2 responses, which nest
// the payload under "data", are unwrapped.
func (c *Client) GetSecret(ctx context.Context, path, key string) (string, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path: %s", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in secret at path: %s", key, path)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key %s is not a string at path: %s", key, path)
	}
	return str, nil
}

// Token authenticates and reads the configured token secret.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.config.Path == "" {
		return "", fmt.Errorf("vault secret path is required")
	}
	key := c.config.Key
	if key == "" {
		key = "token"
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	return c.GetSecret(ctx, c.config.Path, key)
}
