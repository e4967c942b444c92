package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/devbench/internal/doctor"
)

var errConfigInvalid = errors.New("configuration invalid")

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration checks",
	}

	var asJSON, strict bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration against this host",
		Long: `Load the configuration, then check the provisioning script, its BLAKE3
pin, the state directory and the API settings. Exits non-zero when any
error is found, or on warnings with --strict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := c.loadConfig()
			if err != nil {
				return err
			}
			res := doctor.New(cfg).Validate()

			out := cmd.OutOrStdout()
			if asJSON {
				s, err := doctor.FormatJSON(res)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			} else {
				fmt.Fprintf(out, "Config: %s\n", path)
				fmt.Fprint(out, doctor.FormatHuman(res))
			}

			if !res.Valid || (strict && len(res.Warnings) > 0) {
				return errConfigInvalid
			}
			return nil
		},
	}
	check.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	check.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := c.loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", path)
			_, err = out.Write(data)
			return err
		},
	}

	cmd.AddCommand(check, show)
	return cmd
}
