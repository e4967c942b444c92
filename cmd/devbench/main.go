package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/devbench/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries flags shared by every noun.
type cli struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "devbench",
		Short: "Lifecycle orchestrator for per-user development workbenches",
		Long: `devbench tracks per-user development workbenches and drives their
lifecycle through an external provisioning script.

Core resources:
  system    Service lifecycle
  config    Configuration checks
  script    Provisioning script integrity
  user      Local user accounts
  watch     Live terminal view of your devbenches`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"path to config file or directory (default: $"+config.EnvConfigPath+" or discovered)")

	root.AddCommand(
		newSystemCmd(c),
		newConfigCmd(c),
		newScriptCmd(c),
		newUserCmd(c),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves and loads the configuration named by --config.
func (c *cli) loadConfig() (*config.Config, string, error) {
	path, err := config.Discover(c.configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
