package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jvreagan/cloud-ship/pkg/credentials"
)

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an API token",
		Long: `Store an API token in the credentials file. The token is taken from --token
or read from standard input. Tokens are created in the dashboard; this
command does not run an interactive sign-in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := cmd.Flags().GetString("token")
			if err != nil {
				return err
			}
			if token == "" {
				if token, err = c.readToken(); err != nil {
					return err
				}
			}

			path := c.settings.Credentials.File
			if path == "" {
				return fmt.Errorf("credentials.file is not set")
			}
			if err := credentials.NewFileStore(path).Save(token, c.settings.APIURL); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s Token saved to %s\n", green("✓"), path)
			return nil
		},
	}
}

// readToken reads a token from stdin, without echo when stdin is a terminal.
func (c *cli) readToken() (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, "API token: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", credentials.ErrNoToken
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.settings.Credentials.File
			if path == "" {
				return fmt.Errorf("credentials.file is not set")
			}
			if err := credentials.NewFileStore(path).Invalidate(); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Token removed from %s\n", path)
			return nil
		},
	}
}
