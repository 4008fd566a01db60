package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) appsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage applications",
	}

	var team string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the applications of a team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			teamRef := team
			if teamRef == "" {
				m, err := project(workingDir())
				if err != nil {
					return err
				}
				if m == nil || m.Team.ID == "" {
					return fmt.Errorf("--team is required outside a linked project")
				}
				teamRef = m.Team.ID
			}

			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}
			t, err := findTeam(ctx, client, teamRef)
			if err != nil {
				return c.apiError(err, inv)
			}
			apps, err := client.ListApps(ctx, t.ID)
			if err != nil {
				return c.apiError(err, inv)
			}
			if len(apps) == 0 {
				fmt.Fprintf(c.stdout, "No applications in team %s\n", t.Slug)
				return nil
			}

			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tDASHBOARD")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Slug, a.DashboardURL)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&team, "team", "", "team ID or slug (default from the link file)")

	cmd.AddCommand(list)
	return cmd
}

func (c *cli) teamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Manage teams",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the teams visible to the API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}
			teams, err := client.ListTeams(ctx)
			if err != nil {
				return c.apiError(err, inv)
			}

			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tNAME")
			for _, t := range teams {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Slug, t.Name)
			}
			return w.Flush()
		},
	})
	return cmd
}
