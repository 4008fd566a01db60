// Package config loads cloud-ship settings from, in increasing precedence,
// built-in defaults, a YAML config file, a .env file, CLOUD_SHIP_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jvreagan/cloud-ship/pkg/credentials"
	"github.com/jvreagan/cloud-ship/pkg/vault"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. CLOUD_SHIP_API_URL.
	EnvPrefix = "CLOUD_SHIP"

	// DefaultAPIURL is used when no api_url is configured.
	DefaultAPIURL = "https://api.cloud-ship.dev"

	// DotEnvFile is loaded from the working directory when present.
	DotEnvFile = ".env"
)

// Config keys.
const (
	KeyAPIURL            = "api_url"
	KeyToken             = "token"
	KeyCredentialsSource = "credentials.source"
	KeyCredentialsFile   = "credentials.file"
	KeyVaultAddress      = "vault.address"
	KeyVaultToken        = "vault.token"
	KeyVaultAuthMethod   = "vault.auth_method"
	KeyVaultRoleID       = "vault.role_id"
	KeyVaultSecretID     = "vault.secret_id"
	KeyVaultPath         = "vault.path"
	KeyVaultKey          = "vault.key"
	KeyAWSRegion         = "aws.region"
	KeyAWSSecretID       = "aws.secret_id"
	KeyAWSSecretField    = "aws.secret_field"
	KeyAWSAccessKeyID    = "aws.access_key_id"
	KeyAWSSecretAccess   = "aws.secret_access_key"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyMetricsFile       = "metrics_file"
	KeyProgress          = "progress"
)

// Settings is the resolved configuration.
type Settings struct {
	// APIURL is the deployment API base URL
	APIURL string

	// Credentials selects the token source
	Credentials credentials.Config

	// LogLevel is debug, info, warn or error
	LogLevel string

	// LogFormat is text or json
	LogFormat string

	// MetricsFile, when set, receives a Prometheus textfile at exit
	MetricsFile string

	// Progress enables the upload progress bar on terminals
	Progress bool

	// ConfigFile is the config file that was read, if any
	ConfigFile string
}

// DefaultConfigFile returns $XDG_CONFIG_HOME/cloud-ship/config.yaml or its
// platform equivalent.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cloud-ship", "config.yaml")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAPIURL, DefaultAPIURL)
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyCredentialsSource, credentials.SourceEnvironment)
	v.SetDefault(KeyCredentialsFile, credentials.DefaultFile())
	v.SetDefault(KeyVaultAddress, "")
	v.SetDefault(KeyVaultToken, "")
	v.SetDefault(KeyVaultAuthMethod, "token")
	v.SetDefault(KeyVaultRoleID, "")
	v.SetDefault(KeyVaultSecretID, "")
	v.SetDefault(KeyVaultPath, "")
	v.SetDefault(KeyVaultKey, "token")
	v.SetDefault(KeyAWSRegion, "")
	v.SetDefault(KeyAWSSecretID, "")
	v.SetDefault(KeyAWSSecretField, "token")
	v.SetDefault(KeyAWSAccessKeyID, "")
	v.SetDefault(KeyAWSSecretAccess, "")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsFile, "")
	v.SetDefault(KeyProgress, true)
	return v
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// Load reads configFile into v and resolves Settings. An empty configFile
// means DefaultConfigFile, which may be absent; an explicit file must exist.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
			if explicit || !missing {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
			configFile = ""
		}
	}

	s := &Settings{
		APIURL: strings.TrimSpace(v.GetString(KeyAPIURL)),
		Credentials: credentials.Config{
			Source: v.GetString(KeyCredentialsSource),
			Token:  v.GetString(KeyToken),
			File:   v.GetString(KeyCredentialsFile),
			Vault: vault.Config{
				Address: v.GetString(KeyVaultAddress),
				Auth: vault.AuthConfig{
					Method:   v.GetString(KeyVaultAuthMethod),
					Token:    v.GetString(KeyVaultToken),
					RoleID:   v.GetString(KeyVaultRoleID),
					SecretID: v.GetString(KeyVaultSecretID),
				},
				Path: v.GetString(KeyVaultPath),
				Key:  v.GetString(KeyVaultKey),
			},
			AWS: credentials.AWSConfig{
				Region:          v.GetString(KeyAWSRegion),
				SecretID:        v.GetString(KeyAWSSecretID),
				Key:             v.GetString(KeyAWSSecretField),
				AccessKeyID:     v.GetString(KeyAWSAccessKeyID),
				SecretAccessKey: v.GetString(KeyAWSSecretAccess),
			},
		},
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		MetricsFile: v.GetString(KeyMetricsFile),
		Progress:    v.GetBool(KeyProgress),
		ConfigFile:  configFile,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.APIURL == "" {
		return fmt.Errorf("%s must not be empty", KeyAPIURL)
	}
	switch s.Credentials.Source {
	case credentials.SourceEnvironment, credentials.SourceFile,
		credentials.SourceVault, credentials.SourceSecretsManager:
	default:
		return fmt.Errorf("%s must be one of environment, file, vault, secrets-manager; got %q",
			KeyCredentialsSource, s.Credentials.Source)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%s must be text or json; got %q", KeyLogFormat, s.LogFormat)
	}
	return nil
}
