package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jvreagan/cloud-ship/pkg/api"
	"github.com/jvreagan/cloud-ship/pkg/deploy"
	"github.com/jvreagan/cloud-ship/pkg/manifest"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

func (c *cli) linkCmd() *cobra.Command {
	var (
		appID  string
		team   string
		create string
		path   string
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a project directory to an application",
		Long: `Write .cloud-ship/app.yaml so later commands know which application the
project deploys to. Use --create to make a new application in a team.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (appID == "") == (create == "") {
				return fmt.Errorf("exactly one of --app or --create is required")
			}
			if create != "" && team == "" {
				return fmt.Errorf("--team is required with --create")
			}
			root := dir
			if root == "" {
				root = workingDir()
			}

			ctx := cmd.Context()
			client, inv, err := c.client(ctx)
			if err != nil {
				return err
			}

			var teamRef manifest.TeamRef
			if team != "" {
				t, err := findTeam(ctx, client, team)
				if err != nil {
					return c.apiError(err, inv)
				}
				teamRef = manifest.TeamRef{ID: t.ID, Slug: t.Slug}
			}

			var app types.App
			if create != "" {
				app, err = client.CreateApp(ctx, teamRef.ID, create)
			} else {
				app, err = client.GetApp(ctx, appID)
				if api.IsNotFound(err) {
					err = fmt.Errorf("%w: %s", deploy.ErrAppNotFound, appID)
				}
			}
			if err != nil {
				return c.apiError(err, inv)
			}
			if teamRef.ID == "" {
				teamRef.ID = app.TeamID
			}

			m, err := manifest.Load(manifest.PathIn(root))
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				m = &manifest.Manifest{}
			}
			m.App = manifest.AppRef{ID: app.ID, Slug: app.Slug}
			m.Team = teamRef
			if path != "" {
				m.Deploy.Path = path
			}
			if err := m.Save(root); err != nil {
				return err
			}

			abs, _ := filepath.Abs(root)
			fmt.Fprintf(c.stdout, "%s Linked %s to %s (%s)\n", green("✓"), abs, bold(app.Slug), app.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "ID of an existing application")
	cmd.Flags().StringVar(&create, "create", "", "create a new application with this name")
	cmd.Flags().StringVar(&team, "team", "", "team ID or slug")
	cmd.Flags().StringVar(&path, "path", "", "source directory relative to the project root")
	cmd.Flags().StringVar(&dir, "dir", "", "project root (default the working directory)")
	return cmd
}

// findTeam looks a team up by ID or slug.
func findTeam(ctx context.Context, client *api.Client, ref string) (types.Team, error) {
	teams, err := client.ListTeams(ctx)
	if err != nil {
		return types.Team{}, err
	}
	for _, t := range teams {
		if t.ID == ref || t.Slug == ref {
			return t, nil
		}
	}
	return types.Team{}, fmt.Errorf("team %s not found", ref)
}
