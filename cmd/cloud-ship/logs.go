package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvreagan/cloud-ship/pkg/stream"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

func (c *cli) logsCmd() *cobra.Command {
	var (
		appID string
		q     types.AppLogQuery
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print application runtime logs",
		Long: `Print the runtime logs of the linked application. With --follow the stream
stays open until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if q.Tail < 0 {
				return fmt.Errorf("--tail must not be negative")
			}
			m, err := project(workingDir())
			if err != nil {
				return err
			}
			app, err := resolveApp(appID, m)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}

			reader := stream.NewAppLogReader(client, c.logger, c.metrics)
			for entry, err := range reader.Stream(ctx, app, q) {
				if err != nil {
					return c.apiError(err, inv)
				}
				printLogEntry(c.stdout, entry)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "application ID (default from the link file)")
	cmd.Flags().IntVarP(&q.Tail, "tail", "n", 0, "number of past lines to show first")
	cmd.Flags().StringVar(&q.Since, "since", "", "only show logs newer than this, e.g. 5m or 1h")
	cmd.Flags().BoolVarP(&q.Follow, "follow", "f", false, "keep streaming new log entries")
	return cmd
}
