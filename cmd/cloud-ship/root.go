package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jvreagan/cloud-ship/pkg/api"
	"github.com/jvreagan/cloud-ship/pkg/config"
	"github.com/jvreagan/cloud-ship/pkg/credentials"
	"github.com/jvreagan/cloud-ship/pkg/deploy"
	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/manifest"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
)

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"api-url":      config.KeyAPIURL,
	"token":        config.KeyToken,
	"log-level":    config.KeyLogLevel,
	"log-format":   config.KeyLogFormat,
	"metrics-file": config.KeyMetricsFile,
}

// cli holds the state shared by all commands of one invocation.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	v          *viper.Viper
	configFile string
	noProgress bool

	settings *config.Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	return &cli{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		v:       config.New(),
		logger:  logging.GetLogger(),
		metrics: metrics.New(),
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cloud-ship",
		Short: "Package, upload and follow deployments on the cloud-ship platform",
		Long: `cloud-ship packages a project directory, uploads it to the deployment API
and follows the build until the deployment succeeds or fails.

Link a project once with 'cloud-ship link --app <id>', then run
'cloud-ship deploy' from anywhere inside it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/cloud-ship/config.yaml)")
	flags.String("api-url", "", "deployment API base URL")
	flags.String("token", "", "API token, overrides stored credentials")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	flags.BoolVar(&c.noProgress, "no-progress", false, "disable the upload progress bar")

	root.AddCommand(
		c.deployCmd(),
		c.logsCmd(),
		c.statusCmd(),
		c.linkCmd(),
		c.appsCmd(),
		c.teamsCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.versionCmd(),
	)
	return root
}

// execute runs the command line. The metrics file is written even when the
// command failed.
func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if c.settings != nil && c.settings.MetricsFile != "" {
		if werr := c.metrics.WriteTextfile(c.settings.MetricsFile); werr != nil {
			c.logger.Warn("failed to write metrics file", "path", c.settings.MetricsFile, "error", werr)
		}
	}
	return err
}

// setup loads configuration and configures logging before any command runs.
func (c *cli) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for name, key := range flagKeys {
		if err := c.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	if c.noProgress {
		c.v.Set(config.KeyProgress, false)
	}

	if err := config.LoadDotEnv(config.DotEnvFile); err != nil {
		return err
	}
	s, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.Configure(logging.Options{
		Level:  s.LogLevel,
		Format: s.LogFormat,
		Output: c.stderr,
	})
	if err != nil {
		return err
	}
	c.settings = s
	c.logger = logger

	logger.Debug("configuration loaded", logging.Attrs(map[string]any{
		"config_file":        s.ConfigFile,
		"api_url":            s.APIURL,
		"credentials_source": s.Credentials.Source,
		"token":              s.Credentials.Token,
	})...)
	return nil
}

// client builds an API client from the configured credentials. The returned
// Invalidator is nil when the token is not stored by cloud-ship.
func (c *cli) client(ctx context.Context) (*api.Client, credentials.Invalidator, error) {
	src, inv, err := credentials.NewSource(ctx, c.settings.Credentials)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := credentials.OAuth2(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	base := c.settings.APIURL
	if store, ok := inv.(*credentials.FileStore); ok && base == config.DefaultAPIURL {
		if stored, err := store.APIURL(); err == nil && stored != "" {
			base = stored
		}
	}

	client, err := api.New(base, tokens, version, api.WithLogger(c.logger))
	if err != nil {
		return nil, nil, err
	}
	c.logger.Debug("api client ready", "api_url", base, "request_id", client.RequestID())
	return client, inv, nil
}

// apiError maps authentication failures of commands other than deploy.
func (c *cli) apiError(err error, inv credentials.Invalidator) error {
	switch {
	case api.IsUnauthorized(err):
		if inv != nil {
			if ierr := inv.Invalidate(); ierr != nil {
				c.logger.Warn("failed to discard stored credentials", "error", ierr)
			}
		}
		return deploy.ErrInvalidToken
	case api.IsForbidden(err):
		return deploy.ErrPermissionDenied
	}
	return err
}

// project finds the link file above dir. A missing link file is not an
// error; the result is nil.
func project(dir string) (*manifest.Manifest, error) {
	m, err := manifest.Find(dir)
	if errors.Is(err, manifest.ErrNotLinked) {
		return nil, nil
	}
	return m, err
}

// resolveApp returns the explicit app ID or the one from the link file.
func resolveApp(flag string, m *manifest.Manifest) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if m != nil {
		return m.App.ID, nil
	}
	return "", fmt.Errorf("%w; run 'cloud-ship link --app <id>' or pass --app", manifest.ErrNotLinked)
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
