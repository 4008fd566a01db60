// Package credentials resolves the deployment API token from one of several
// sources: the environment, a local credentials file, HashiCorp Vault or
// AWS Secrets Manager.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jvreagan/cloud-ship/pkg/vault"
)

// Source names accepted in Config.Source.
const (
	SourceEnvironment    = "environment"
	SourceFile           = "file"
	SourceVault          = "vault"
	SourceSecretsManager = "secrets-manager"
)

// ErrNoToken is returned when a source has no token configured.
var ErrNoToken = errors.New("no API token configured; run `cloud-ship login` or set CLOUD_SHIP_TOKEN")

// Source yields the API token.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Invalidator discards a stored token after the API rejected it.
type Invalidator interface {
	Invalidate() error
}

// Config selects and configures a token source.
type Config struct {
	// Source is "environment", "file", "vault" or "secrets-manager"
	// (default "environment", falling back to the file store when no token
	// is set)
	Source string

	// Token is the token for the environment source
	Token string

	// File is the credentials file for the file source
	File string

	// Vault configures the vault source
	Vault vault.Config

	// AWS configures the secrets-manager source
	AWS AWSConfig
}

// Static is a Source returning a fixed token.
type Static string

// Token returns the token, or ErrNoToken when it is empty.
func (s Static) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// NewSource builds the Source selected by cfg. The second return value is
// the Invalidator to call when the API rejects the token; it is nil for
// sources the client does not own.
func NewSource(ctx context.Context, cfg Config) (Source, Invalidator, error) {
	switch cfg.Source {
	case "", SourceEnvironment:
		if strings.TrimSpace(cfg.Token) != "" || cfg.File == "" {
			return Static(cfg.Token), nil, nil
		}
		store := NewFileStore(cfg.File)
		return store, store, nil

	case SourceFile:
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("credentials.file is required for the file source")
		}
		store := NewFileStore(cfg.File)
		return store, store, nil

	case SourceVault:
		v := cfg.Vault
		client, err := vault.NewClient(&v)
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil

	case SourceSecretsManager:
		src, err := NewSecretsManagerSource(ctx, cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown credentials source: %s", cfg.Source)
	}
}

// OAuth2 resolves the token once and returns it as a bearer token source for
// the API client.
func OAuth2(ctx context.Context, src Source) (oauth2.TokenSource, error) {
	tok, err := src.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, ErrNoToken
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
}
