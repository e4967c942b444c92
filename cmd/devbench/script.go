package main

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/devbench/internal/runner"
)

func newScriptCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Provisioning script integrity",
	}

	hash := &cobra.Command{
		Use:   "hash [path]",
		Short: "Print the BLAKE3 pin for the provisioning script",
		Long: `Hash the provisioning script and print the value for script.blake3.
Without a path, the script named in the configuration is hashed. Once
pinned, every run verifies the script first and refuses to start it if
the contents changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, _, err := c.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Script.Path
			}

			resolved, err := exec.LookPath(path)
			if err != nil && !errors.Is(err, exec.ErrDot) {
				return fmt.Errorf("provisioning script %q: %w", path, err)
			}
			if resolved == "" {
				resolved = path
			}
			sum, err := runner.HashFile(resolved)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\nscript:\n  blake3: %s\n", resolved, sum)
			return nil
		},
	}

	cmd.AddCommand(hash)
	return cmd
}
