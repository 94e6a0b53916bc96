package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/scenarist/internal/gateway"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

var statusColumns = []store.Status{
	store.StatusPending,
	store.StatusHold,
	store.StatusCompleted,
	store.StatusFailed,
	store.StatusDrop,
}

func newStatusCmd(configDir *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show action queue counts per type and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*configDir)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()
			if !jsonOutput {
				logging.Suppress()
			}

			clock, err := timeutil.NewSystemClock(s.Timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
			}
			db, err := store.Open(s.Database, clock)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			collector := gateway.NewCollector(store.NewActionStore(db), store.NewUserStore(db), s.ActivePreset, time.Time{})
			snap, err := collector.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Print(renderStatus(snap, s.Database.Path))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(snap *gateway.Snapshot, dbPath string) string {
	headers := []string{"TYPE"}
	for _, st := range statusColumns {
		headers = append(headers, string(st))
	}
	headers = append(headers, "total")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, tc := range snap.Actions {
		t.Row(countRow(tc.ActionType, tc.Statuses, tc.Total)...)
	}
	var total int64
	for _, n := range snap.Totals {
		total += n
	}
	t.Row(countRow("all", snap.Totals, total)...)

	out := titleStyle.Render("Scenarist Status") + "\n"
	out += dimStyle.Render(fmt.Sprintf("preset %s · database %s · users %d", snap.Preset, dbPath, snap.Users)) + "\n"
	out += t.Render() + "\n"
	if extra := unknownStatuses(snap.Totals); len(extra) > 0 {
		out += dimStyle.Render(fmt.Sprintf("other statuses: %v", extra)) + "\n"
	}
	return out
}

func countRow(name string, counts map[string]int64, total int64) []string {
	row := []string{name}
	for _, st := range statusColumns {
		row = append(row, strconv.FormatInt(counts[string(st)], 10))
	}
	return append(row, strconv.FormatInt(total, 10))
}

func unknownStatuses(totals map[string]int64) []string {
	var out []string
	for st := range totals {
		if !slices.Contains(statusColumns, store.Status(st)) {
			out = append(out, st)
		}
	}
	slices.Sort(out)
	return out
}
