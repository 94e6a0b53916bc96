package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/health"
)

// Logo is the ASCII art logo for Scenarist
const Logo = `
   ███████╗ ██████╗███████╗███╗   ██╗ █████╗ ██████╗ ██╗███████╗████████╗
   ██╔════╝██╔════╝██╔════╝████╗  ██║██╔══██╗██╔══██╗██║██╔════╝╚══██╔══╝
   ███████╗██║     █████╗  ██╔██╗ ██║███████║██████╔╝██║███████╗   ██║
   ╚════██║██║     ██╔══╝  ██║╚██╗██║██╔══██║██╔══██╗██║╚════██║   ██║
   ███████║╚██████╗███████╗██║ ╚████║██║  ██║██║  ██║██║███████║   ██║
   ╚══════╝ ╚═════╝╚══════╝╚═╝  ╚═══╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚══════╝   ╚═╝
`

// Tagline is the project tagline
const Tagline = "Scenarios In, Messages Out"

// PrintWithVersion prints the banner with version info
func PrintWithVersion(w io.Writer, version string) {
	fmt.Fprint(w, Logo)
	fmt.Fprintf(w, "   %s\n", Tagline)
	fmt.Fprintf(w, "   v%s\n\n", version)
}

// StartupTelegram prints the compact startup header: enabled features,
// warnings and where the bot reads its preset from.
func StartupTelegram(w io.Writer, version string, s *config.Settings) {
	report := health.RunChecks(s)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "SCENARIST v%s │ Telegram Bot\n", version)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	var enabled []string
	var warnings []string
	for _, f := range report.Features {
		switch f.Status {
		case health.StatusOK:
			enabled = append(enabled, f.Name)
		case health.StatusWarning:
			warnings = append(warnings, f.Name+"*")
		}
	}
	if len(enabled) > 0 {
		fmt.Fprintf(w, "✓ %s\n", strings.Join(enabled, ", "))
	}
	if len(warnings) > 0 {
		fmt.Fprintf(w, "○ %s\n", strings.Join(warnings, ", "))
	}

	for _, c := range report.Preset {
		if c.Status != health.StatusOK {
			fmt.Fprintf(w, "  * %s: %s\n", c.Name, c.Message)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Preset:   %s\n", s.ActivePreset)
	fmt.Fprintf(w, "Database: %s\n", s.Database.Path)
	if s.Status.Enabled {
		fmt.Fprintf(w, "Status:   http://%s/api/v1/status\n", s.Status.Listen)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Listening... (Ctrl+C to stop)")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
}
