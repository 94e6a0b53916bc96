package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/scenarist/internal/app"
	"github.com/alekspetrov/scenarist/internal/banner"
	"github.com/alekspetrov/scenarist/internal/logging"
)

func newRunCmd(configDir *string) *cobra.Command {
	var housekeepOnStart, quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start polling Telegram and processing the action queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*configDir)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()
			if err := s.Validate(); err != nil {
				return err
			}

			if !quiet {
				banner.StartupTelegram(os.Stdout, version, s)
			}

			a, err := app.New(app.Options{Settings: s})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if housekeepOnStart {
				a.RunHousekeeping(ctx)
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip the startup banner")
	cmd.Flags().BoolVar(&housekeepOnStart, "housekeep", false, "Run the enabled cleaners once before starting")
	return cmd
}
