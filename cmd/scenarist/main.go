package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/scenarist/internal/banner"
	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/logging"
)

var version = "0.1.0"

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "scenarist",
		Short:         "Scenario-driven Telegram bot",
		Long:          `Scenarist maps Telegram updates to YAML scenarios and executes their actions through a durable, chained queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "config", "Config directory (settings.yaml, presets/)")

	rootCmd.AddCommand(
		newRunCmd(&configDir),
		newMigrateCmd(&configDir),
		newStatusCmd(&configDir),
		newDoctorCmd(&configDir),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings loads the settings under dir and installs the configured
// logger.
func loadSettings(dir string) (*config.Settings, error) {
	s, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(&s.Logging); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	return s, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Scenarist version",
		Run: func(cmd *cobra.Command, args []string) {
			banner.PrintWithVersion(os.Stdout, version)
		},
	}
}
