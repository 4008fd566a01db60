package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvreagan/cloud-ship/pkg/deploy"
	"github.com/jvreagan/cloud-ship/pkg/status"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

func (c *cli) statusCmd() *cobra.Command {
	var (
		appID string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show the status of a deployment",
		Long: `Show the status of a deployment, by default the latest one started from
this project. With --wait the command polls until the status is terminal and
fails if the deployment failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := project(workingDir())
			if err != nil {
				return err
			}
			app, err := resolveApp(appID, m)
			if err != nil {
				return err
			}

			var deploymentID string
			if len(args) == 1 {
				deploymentID = args[0]
			} else if m != nil {
				if deploymentID, err = m.LastDeployment(); err != nil {
					return err
				}
			}
			if deploymentID == "" {
				return fmt.Errorf("no deployment recorded for this project; pass a deployment ID")
			}

			ctx := cmd.Context()
			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}

			var d types.Deployment
			if wait {
				p := status.NewPoller(client, c.logger, c.metrics)
				p.OnStatus = (&printer{out: c.stdout}).StatusChanged
				d, err = p.Wait(ctx, app, deploymentID)
			} else {
				d, err = client.GetDeployment(ctx, app, deploymentID)
			}
			if err != nil {
				return c.apiError(err, inv)
			}

			printDeployment(c.stdout, d)
			if wait && d.Status.IsFailed() {
				return &deploy.DeploymentFailedError{Deployment: d, DashboardURL: d.DashboardURL}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "application ID (default from the link file)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the deployment reaches a terminal status")
	return cmd
}
