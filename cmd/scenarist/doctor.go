package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/scenarist/internal/health"
	"github.com/alekspetrov/scenarist/internal/logging"
)

func newDoctorCmd(configDir *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the preset and settings",
		Long: `Run health checks on the active preset, the settings and the optional features.

Examples:
  scenarist doctor           # Run all checks
  scenarist doctor --verbose # Show fix suggestions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*configDir)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()
			logging.Suppress()

			report := health.RunChecks(s)
			printReport(os.Stdout, report, verbose)
			if !report.ReadyToStart() {
				errs, _ := report.Summary()
				return fmt.Errorf("%d critical error(s)", errs)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show fix suggestions")
	return cmd
}

func printReport(w io.Writer, report *health.Report, verbose bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Scenarist Health Check")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)

	section := func(title string, checks []health.Check) {
		fmt.Fprintln(w, title+":")
		for _, c := range checks {
			fmt.Fprintf(w, "  %s %-20s %s\n", c.Status.ColorSymbol(), c.Name, c.Message)
			if verbose && c.Fix != "" && c.Status != health.StatusOK {
				fmt.Fprintf(w, "                         → %s\n", c.Fix)
			}
		}
		fmt.Fprintln(w)
	}
	section("Preset", report.Preset)
	section("Configuration", report.Config)

	fmt.Fprintln(w, "Features Status:")
	for _, f := range report.Features {
		note := ""
		if f.Note != "" {
			note = " (" + f.Note + ")"
		}
		fmt.Fprintf(w, "  %s %-16s%s\n", f.Status.ColorSymbol(), f.Name, note)
	}
	fmt.Fprintln(w)

	errs, warnings := report.Summary()
	switch {
	case errs == 0 && warnings == 0:
		fmt.Fprintln(w, "✅ All systems operational!")
	case errs == 0:
		fmt.Fprintf(w, "✅ Ready to start (%d warning(s))\n", warnings)
	default:
		fmt.Fprintf(w, "❌ Not ready - %d critical error(s)\n", errs)
	}
	fmt.Fprintln(w)
}
