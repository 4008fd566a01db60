package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvreagan/cloud-ship/pkg/api"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// version works without a readable config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "cloud-ship version %s\n", version)
			fmt.Fprintf(c.stdout, "  commit: %s\n", commit)
			fmt.Fprintf(c.stdout, "  built: %s\n", date)
			fmt.Fprintf(c.stdout, "  user agent: %s\n", api.UserAgent(version))
		},
	}
}
