package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jvreagan/cloud-ship/pkg/archive"
	"github.com/jvreagan/cloud-ship/pkg/deploy"
	"github.com/jvreagan/cloud-ship/pkg/upload"
)

func (c *cli) deployCmd() *cobra.Command {
	var (
		appID   string
		noWait  bool
		exclude []string
	)
	cmd := &cobra.Command{
		Use:   "deploy [path]",
		Short: "Package the project and deploy it",
		Long: `Package the project, upload it and follow the build until the deployment
reaches a terminal status. With --no-wait the command returns once the
upload is confirmed and prints the dashboard URL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := workingDir()
			if len(args) == 1 {
				dir = args[0]
			}
			m, err := project(dir)
			if err != nil {
				return err
			}
			app, err := resolveApp(appID, m)
			if err != nil {
				return err
			}

			opts := deploy.Options{
				AppID: app,
				Dir:   dir,
				Wait:  !noWait,
			}
			if m != nil {
				if len(args) == 0 {
					opts.Dir = m.SourceDir()
				}
				opts.Wait = opts.Wait && m.ShouldWait()
				opts.Archive = archive.Options{
					IgnoreFile: m.Deploy.IgnoreFile,
					Exclude:    append([]string(nil), m.Deploy.Exclude...),
				}
			}
			opts.Archive.Exclude = append(opts.Archive.Exclude, exclude...)

			ctx := cmd.Context()
			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}

			o := deploy.New(client, c.logger, c.metrics)
			o.Invalidator = inv
			o.Observer = &printer{out: c.stdout}
			if c.settings.Progress {
				if f, ok := c.stderr.(*os.File); ok {
					o.Uploader.Progress = upload.TerminalProgress(f)
				}
			}

			abs, _ := filepath.Abs(opts.Dir)
			fmt.Fprintf(c.stdout, "Deploying %s to %s\n", abs, bold(app))

			res, err := o.Deploy(ctx, opts)
			if res != nil && m != nil {
				if rerr := m.RecordDeployment(res.Deployment.ID); rerr != nil {
					c.logger.Warn("failed to record deployment", "error", rerr)
				}
			}
			if err != nil {
				var buildErr *deploy.BuildFailedError
				var deployErr *deploy.DeploymentFailedError
				if errors.As(err, &buildErr) || errors.As(err, &deployErr) {
					fmt.Fprintf(c.stdout, "%s Deployment failed\n", red("✗"))
				}
				return err
			}

			if !res.Waited {
				fmt.Fprintf(c.stdout, "Deployment %s is building. Follow it at %s\n", res.Deployment.ID, res.DashboardURL)
				return nil
			}
			fmt.Fprintf(c.stdout, "%s Deployment successful!\n", green("✓"))
			if res.Deployment.URL != "" {
				fmt.Fprintf(c.stdout, "  URL: %s\n", res.Deployment.URL)
			}
			if res.DashboardURL != "" {
				fmt.Fprintf(c.stdout, "  Dashboard: %s\n", res.DashboardURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "application ID (default from the link file)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return after the upload without following the build")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "extra path components to leave out of the archive")
	return cmd
}
