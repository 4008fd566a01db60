package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig configures the secrets-manager source.
type AWSConfig struct {
	// Region of the secret; defaults to the SDK's resolution chain
	Region string

	// SecretID is the secret name or ARN
	SecretID string

	// Key is the JSON field holding the token when the secret is a JSON
	// document (default "token"). Plain-string secrets are used as-is.
	Key string

	// AccessKeyID and SecretAccessKey override the SDK credential chain
	AccessKeyID     string
	SecretAccessKey string
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads the token from AWS Secrets Manager.
type SecretsManagerSource struct {
	Client   SecretsManagerAPI
	SecretID string
	Key      string
}

// NewSecretsManagerSource loads the AWS configuration and returns a source
// for cfg.SecretID.
func NewSecretsManagerSource(ctx context.Context, cfg AWSConfig) (*SecretsManagerSource, error) {
	if cfg.SecretID == "" {
		return nil, fmt.Errorf("aws.secret_id is required for the secrets-manager source")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SecretsManagerSource{
		Client:   secretsmanager.NewFromConfig(awsCfg),
		SecretID: cfg.SecretID,
		Key:      cfg.Key,
	}, nil
}

// Token fetches the secret and extracts the token.
func (s *SecretsManagerSource) Token(ctx context.Context) (string, error) {
	result, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret %s: %w", s.SecretID, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", s.SecretID)
	}

	raw := strings.TrimSpace(aws.ToString(result.SecretString))
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", ErrNoToken
		}
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("failed to parse secret JSON: %w", err)
	}
	key := s.Key
	if key == "" {
		key = "token"
	}
	tok, ok := doc[key].(string)
	if !ok || tok == "" {
		return "", fmt.Errorf("secret %s has no string field %q", s.SecretID, key)
	}
	return tok, nil
}
