// Package health checks that a config directory can run the bot: preset
// files, required settings and which optional features are on.
package health

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/scenario"
)

// Status represents feature or check status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// Report contains all health check results
type Report struct {
	Preset   []Check
	Config   []Check
	Features []FeatureStatus
}

var triggerSources = []string{event.SourceText, event.SourceCallback, event.SourceNewMember}

// RunChecks inspects s and the preset it points at. It never writes.
func RunChecks(s *config.Settings) *Report {
	return &Report{
		Preset:   checkPreset(s),
		Config:   checkConfig(s),
		Features: checkFeatures(s),
	}
}

func checkPreset(s *config.Settings) []Check {
	var checks []Check

	scenarios, err := scenario.LoadStore(s.ScenariosDir())
	if err != nil {
		checks = append(checks, Check{
			Name:    "scenarios",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     fmt.Sprintf("create %s with at least one .yaml file", s.ScenariosDir()),
		})
	} else {
		checks = append(checks, Check{
			Name:    "scenarios",
			Status:  StatusOK,
			Message: fmt.Sprintf("%d loaded", scenarios.Len()),
		})
	}

	triggers, err := scenario.LoadTriggers(s.TriggersPath())
	switch {
	case err != nil:
		checks = append(checks, Check{
			Name:    "triggers",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     fmt.Sprintf("fix or create %s", s.TriggersPath()),
		})
	case triggers.Len() == 0:
		checks = append(checks, Check{
			Name:    "triggers",
			Status:  StatusWarning,
			Message: "no rules, only :scenario callbacks will match",
		})
	default:
		checks = append(checks, Check{
			Name:    "triggers",
			Status:  StatusOK,
			Message: fmt.Sprintf("%d rules", triggers.Len()),
		})
	}

	if scenarios != nil && triggers != nil {
		if missing := unknownScenarios(triggers, scenarios); len(missing) > 0 {
			checks = append(checks, Check{
				Name:    "trigger targets",
				Status:  StatusWarning,
				Message: fmt.Sprintf("unknown scenarios: %v", missing),
				Fix:     "add the scenarios or remove the rules pointing at them",
			})
		} else {
			checks = append(checks, Check{Name: "trigger targets", Status: StatusOK, Message: "all resolved"})
		}
	}

	if dirExists(s.FilesDir()) {
		checks = append(checks, Check{Name: "files", Status: StatusOK, Message: s.FilesDir()})
	} else {
		checks = append(checks, Check{
			Name:    "files",
			Status:  StatusWarning,
			Message: "missing, local path attachments will fail",
			Fix:     fmt.Sprintf("mkdir -p %s", s.FilesDir()),
		})
	}
	return checks
}

// unknownScenarios lists trigger targets the store cannot resolve.
func unknownScenarios(t *scenario.Triggers, s *scenario.Store) []string {
	var missing []string
	for _, src := range triggerSources {
		for _, cat := range scenario.Categories(src) {
			for _, rule := range t.Rules(src, cat) {
				for _, b := range rule.Bindings {
					if _, err := s.Get(b.Scenario); errors.Is(err, scenario.ErrUnknownScenario) && !slices.Contains(missing, b.Scenario) {
						missing = append(missing, b.Scenario)
					}
				}
			}
		}
	}
	slices.Sort(missing)
	return missing
}

func checkConfig(s *config.Settings) []Check {
	var checks []Check

	if s.Telegram.BotToken == "" {
		checks = append(checks, Check{
			Name:    "telegram.bot_token",
			Status:  StatusError,
			Message: "not set",
			Fix:     "set telegram.bot_token (e.g. ${TELEGRAM_BOT_TOKEN} with a .env file)",
		})
	} else {
		checks = append(checks, Check{Name: "telegram.bot_token", Status: StatusOK, Message: "set"})
	}

	transport := s.Telegram.Transport
	if transport == "" {
		transport = config.TransportBotAPI
	}
	checks = append(checks, Check{Name: "telegram.transport", Status: StatusOK, Message: transport})

	if err := s.Validate(); err != nil && s.Telegram.BotToken != "" {
		checks = append(checks, Check{Name: "settings", Status: StatusError, Message: err.Error()})
	}

	dbDir := filepath.Dir(s.Database.Path)
	if dirExists(dbDir) {
		checks = append(checks, Check{Name: "database", Status: StatusOK, Message: s.Database.Path})
	} else {
		checks = append(checks, Check{
			Name:    "database",
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s will be created on start", dbDir),
		})
	}

	if _, err := time.LoadLocation(zoneName(s.Timezone)); err != nil {
		checks = append(checks, Check{
			Name:    "timezone",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "use an IANA zone such as Europe/Berlin, or Local",
		})
	} else {
		checks = append(checks, Check{Name: "timezone", Status: StatusOK, Message: zoneName(s.Timezone)})
	}

	if s.Status.Enabled && s.Status.Token == "" {
		checks = append(checks, Check{
			Name:    "status.token",
			Status:  StatusWarning,
			Message: "status API is unauthenticated",
			Fix:     "set status.token or bind status.listen to loopback",
		})
	}
	return checks
}

func zoneName(tz string) string {
	if tz == "" {
		return "Local"
	}
	return tz
}

func checkFeatures(s *config.Settings) []FeatureStatus {
	var features []FeatureStatus

	for _, typ := range action.WorkerTypes {
		_, _, enabled := s.Workers.For(typ)
		features = append(features, FeatureStatus{
			Name:    "worker." + typ,
			Enabled: enabled,
			Status:  boolToStatus(enabled),
		})
	}

	actions := s.Housekeeping.Actions.Enabled
	features = append(features, FeatureStatus{
		Name:    "Action cleaner",
		Enabled: actions,
		Status:  boolToStatus(actions),
	})

	cache := s.Housekeeping.Cache
	cacheFeature := FeatureStatus{Name: "Cache cleaner", Enabled: cache.Enabled, Status: boolToStatus(cache.Enabled)}
	if cache.Enabled && cache.DryRun {
		cacheFeature.Status = StatusWarning
		cacheFeature.Note = "dry run"
	}
	features = append(features, cacheFeature)

	features = append(features, FeatureStatus{
		Name:    "Status server",
		Enabled: s.Status.Enabled,
		Status:  boolToStatus(s.Status.Enabled),
	})

	perms := s.Permissions != nil
	features = append(features, FeatureStatus{
		Name:    "Permissions",
		Enabled: perms,
		Status:  boolToStatus(perms),
	})

	return features
}

// Summary counts error and warning results.
func (r *Report) Summary() (errs, warnings int) {
	for _, c := range slices.Concat(r.Preset, r.Config) {
		switch c.Status {
		case StatusError:
			errs++
		case StatusWarning:
			warnings++
		}
	}
	for _, f := range r.Features {
		if f.Status == StatusWarning {
			warnings++
		}
	}
	return errs, warnings
}

// ReadyToStart reports whether no check failed.
func (r *Report) ReadyToStart() bool {
	errs, _ := r.Summary()
	return errs == 0
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

var statusColors = map[Status]lipgloss.Color{
	StatusOK:       lipgloss.Color("42"),
	StatusWarning:  lipgloss.Color("214"),
	StatusError:    lipgloss.Color("196"),
	StatusDisabled: lipgloss.Color("243"),
}

// ColorSymbol returns Symbol rendered in the status color.
func (s Status) ColorSymbol() string {
	c, ok := statusColors[s]
	if !ok {
		return s.Symbol()
	}
	return lipgloss.NewStyle().Foreground(c).Render(s.Symbol())
}
