package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/storage"
	"github.com/mattjoyce/devbench/internal/store"
)

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Local user accounts",
		Long: `Manage accounts directly in the state database. These commands work
whether or not the service is running; disabling a user takes effect on
their next request.`,
	}

	var isAdmin bool
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user (password read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := devbench.ValidateUserID(id); err != nil {
				return err
			}
			hash, err := readPasswordHash(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.CreateUser(cmd.Context(), &devbench.User{ID: id, PasswordHash: hash, IsAdmin: isAdmin}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", id)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&isAdmin, "admin", false, "grant admin rights")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				users, err := st.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				return writeUsers(cmd.OutOrStdout(), users)
			})
		},
	}

	passwd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Replace a user's password (read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := readPasswordHash(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.SetUserPassword(cmd.Context(), args[0], hash); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, passwd,
		c.setDisabledCmd("disable", "Block a user from logging in or using existing tokens", true),
		c.setDisabledCmd("enable", "Re-enable a disabled user", false),
	)
	return cmd
}

func (c *cli) setDisabledCmd(use, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.SetUserDisabled(cmd.Context(), args[0], disabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd user %s\n", use, args[0])
				return nil
			})
		},
	}
}

// withStore opens the configured state database for one command.
func (c *cli) withStore(ctx context.Context, fn func(*store.Store) error) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(store.New(db))
}

// readSecretLine reads the first line of r without its line ending.
func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readPasswordHash(r io.Reader) (string, error) {
	line, err := readSecretLine(r)
	if err != nil {
		return "", err
	}
	return auth.HashPassword(line)
}

func writeUsers(w io.Writer, users []*devbench.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tADMIN\tDISABLED\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", u.ID, u.IsAdmin, u.IsDisabled, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
