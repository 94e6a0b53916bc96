// Package config loads scenarist settings: a global settings.yaml, deep-merged
// with the active preset's settings.yaml, with ${VAR} interpolation from the
// process environment (optionally seeded from a .env file).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
)

// ErrMissingSecret is returned when a required secret is empty.
var ErrMissingSecret = errors.New("required secret is missing")

// Settings is the merged runtime configuration.
type Settings struct {
	ActivePreset string             `mapstructure:"active_preset"`
	Timezone     string             `mapstructure:"timezone"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     store.Config       `mapstructure:"database"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	Workers      WorkersConfig      `mapstructure:"workers"`
	Unlocker     UnlockerConfig     `mapstructure:"unlocker"`
	UserState    UserStateConfig    `mapstructure:"user_state"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
	Permissions  *PermissionsConfig `mapstructure:"permissions"`
	Status       StatusConfig       `mapstructure:"status"`

	// Root is the config directory the settings were loaded from.
	Root string `mapstructure:"-"`
}

// Inbound update sources.
const (
	TransportBotAPI  = "botapi"
	TransportMTProto = "mtproto"
)

// TelegramConfig holds Bot API settings. Transport selects where updates come
// from; sending always goes through the Bot API.
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	APIURL      string        `mapstructure:"api_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	Transport   string        `mapstructure:"transport"`
	MTProto     MTProtoConfig `mapstructure:"mtproto"`
}

// MTProtoConfig holds the application credentials and session file used
// when telegram.transport is mtproto.
type MTProtoConfig struct {
	AppID       int    `mapstructure:"app_id"`
	AppHash     string `mapstructure:"app_hash"`
	SessionPath string `mapstructure:"session_path"`
}

// DispatcherConfig holds inbound event settings.
type DispatcherConfig struct {
	DedupTTL          time.Duration `mapstructure:"dedup_ttl"`
	DedupCompactEvery int           `mapstructure:"dedup_compact_every"`
	MediaGroupTimeout time.Duration `mapstructure:"media_group_timeout"`
}

// WorkerTypeConfig overrides worker settings for one action type.
type WorkerTypeConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
	Enabled   *bool         `mapstructure:"enabled"`
}

// WorkersConfig holds worker loop settings.
type WorkersConfig struct {
	BatchSize int                         `mapstructure:"batch_size"`
	Interval  time.Duration               `mapstructure:"interval"`
	Types     map[string]WorkerTypeConfig `mapstructure:"types"`
}

// For returns the effective settings of the worker serving actionType.
func (w WorkersConfig) For(actionType string) (batchSize int, interval time.Duration, enabled bool) {
	batchSize, interval, enabled = w.BatchSize, w.Interval, true
	t, ok := w.Types[actionType]
	if !ok {
		return
	}
	if t.BatchSize > 0 {
		batchSize = t.BatchSize
	}
	if t.Interval > 0 {
		interval = t.Interval
	}
	if t.Enabled != nil {
		enabled = *t.Enabled
	}
	return
}

// UnlockerConfig holds unlocker loop settings.
type UnlockerConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
}

// UserStateConfig holds user state defaults.
type UserStateConfig struct {
	DefaultExpire time.Duration `mapstructure:"default_expire"`
}

// ActionCleanerConfig configures the action queue purge.
type ActionCleanerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"`
	OlderThanHours     int    `mapstructure:"older_than_hours"`
	BatchSize          int    `mapstructure:"batch_size"`
	ThresholdForVacuum int    `mapstructure:"threshold_for_vacuum"`
}

// CacheCleanerConfig configures the file cache eviction.
type CacheCleanerConfig struct {
	Enabled                   bool   `mapstructure:"enabled"`
	Schedule                  string `mapstructure:"schedule"`
	BasePath                  string `mapstructure:"base_path"`
	OlderThanWithFileHours    int    `mapstructure:"older_than_with_file_hours"`
	OlderThanWithoutFileHours int    `mapstructure:"older_than_without_file_hours"`
	BatchSize                 int    `mapstructure:"batch_size"`
	ThresholdForVacuum        int    `mapstructure:"threshold_for_vacuum"`
	DryRun                    bool   `mapstructure:"dry_run"`
}

// HousekeepingConfig groups the periodic cleaners.
type HousekeepingConfig struct {
	Actions ActionCleanerConfig `mapstructure:"actions"`
	Cache   CacheCleanerConfig  `mapstructure:"cache"`
}

// PermissionsConfig backs the settings-based permission checker. Roles map
// role names to user ids, group admins map chat ids to user ids.
type PermissionsConfig struct {
	Roles           map[string][]int64  `mapstructure:"roles"`
	RolePermissions map[string][]string `mapstructure:"role_permissions"`
	GroupAdmins     map[string][]int64  `mapstructure:"group_admins"`
}

// StatusConfig holds the HTTP status surface settings.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	// Token, when set, is required as a bearer token on /api/v1/*.
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("active_preset", "default")
	v.SetDefault("timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	db := store.DefaultConfig()
	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.path", db.Path)
	v.SetDefault("database.busy_timeout_ms", db.BusyTimeoutMs)
	v.SetDefault("database.wal", db.WAL)

	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.transport", TransportBotAPI)
	v.SetDefault("telegram.mtproto.session_path", filepath.Join("data", "mtproto.session"))

	v.SetDefault("dispatcher.dedup_ttl", "15s")
	v.SetDefault("dispatcher.dedup_compact_every", 50)
	v.SetDefault("dispatcher.media_group_timeout", "1s")

	v.SetDefault("workers.batch_size", 50)
	v.SetDefault("workers.interval", "500ms")

	v.SetDefault("unlocker.batch_size", 100)
	v.SetDefault("unlocker.interval", "500ms")

	v.SetDefault("user_state.default_expire", "24h")

	v.SetDefault("housekeeping.actions.enabled", true)
	v.SetDefault("housekeeping.actions.schedule", "@every 1h")
	v.SetDefault("housekeeping.actions.older_than_hours", 72)
	v.SetDefault("housekeeping.actions.batch_size", 1000)
	v.SetDefault("housekeeping.actions.threshold_for_vacuum", 10000)

	v.SetDefault("housekeeping.cache.enabled", true)
	v.SetDefault("housekeeping.cache.schedule", "@every 1h")
	v.SetDefault("housekeeping.cache.base_path", filepath.Join("data", "cache"))
	v.SetDefault("housekeeping.cache.older_than_with_file_hours", 168)
	v.SetDefault("housekeeping.cache.older_than_without_file_hours", 720)
	v.SetDefault("housekeeping.cache.batch_size", 500)
	v.SetDefault("housekeeping.cache.threshold_for_vacuum", 5000)
	v.SetDefault("housekeeping.cache.dry_run", false)

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen", "127.0.0.1:9191")
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	_ = v.Unmarshal(s)
	return s
}

// Load reads root/settings.yaml and merges root/presets/<active_preset>/settings.yaml
// over it. A root/.env file, when present, seeds the environment first.
func Load(root string) (*Settings, error) {
	log := logging.WithComponent("config")

	envFile := filepath.Join(root, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		log.Debug("Environment file loaded", "path", envFile)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	globalPath := filepath.Join(root, "settings.yaml")
	data, err := ReadFile(globalPath)
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", globalPath, err)
	}

	preset := v.GetString("active_preset")
	presetPath := filepath.Join(root, "presets", preset, "settings.yaml")
	if data, err := ReadFile(presetPath); err == nil {
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", presetPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if !v.IsSet("permissions") {
		s.Permissions = nil
	}
	s.Root = root

	log.Info("Settings loaded", "root", root, "preset", s.ActivePreset)
	return s, nil
}

// ReadFile reads a YAML file and interpolates ${VAR} references.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Interpolate(data, path), nil
}

// PresetDir returns the directory of the active preset.
func (s *Settings) PresetDir() string {
	return filepath.Join(s.Root, "presets", s.ActivePreset)
}

// TriggersPath returns the active preset's trigger table file.
func (s *Settings) TriggersPath() string {
	return filepath.Join(s.PresetDir(), "triggers.yaml")
}

// ScenariosDir returns the active preset's scenario directory.
func (s *Settings) ScenariosDir() string {
	return filepath.Join(s.PresetDir(), "scenarios")
}

// FilesDir returns the active preset's directory of local attachments.
func (s *Settings) FilesDir() string {
	return filepath.Join(s.PresetDir(), "files")
}

// GroupAdminsOf returns the configured admins of chatID.
func (p *PermissionsConfig) GroupAdminsOf(chatID int64) []int64 {
	if p == nil {
		return nil
	}
	return p.GroupAdmins[strconv.FormatInt(chatID, 10)]
}

// Validate checks the settings required to run the bot.
func (s *Settings) Validate() error {
	if s.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token: %w", ErrMissingSecret)
	}
	switch s.Telegram.Transport {
	case "", TransportBotAPI:
	case TransportMTProto:
		if s.Telegram.MTProto.AppID == 0 || s.Telegram.MTProto.AppHash == "" {
			return fmt.Errorf("telegram.mtproto.app_id and app_hash: %w", ErrMissingSecret)
		}
	default:
		return fmt.Errorf("unknown telegram transport %q", s.Telegram.Transport)
	}
	if s.Database.Driver != store.DriverModernc && s.Database.Driver != store.DriverMattn {
		return fmt.Errorf("unknown database driver %q", s.Database.Driver)
	}
	if s.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if s.Workers.BatchSize <= 0 {
		return fmt.Errorf("workers.batch_size must be positive, got %d", s.Workers.BatchSize)
	}
	for typ, w := range s.Workers.Types {
		if w.BatchSize < 0 {
			return fmt.Errorf("workers.types.%s.batch_size must not be negative, got %d", typ, w.BatchSize)
		}
	}
	if s.Unlocker.BatchSize <= 0 {
		return fmt.Errorf("unlocker.batch_size must be positive, got %d", s.Unlocker.BatchSize)
	}
	if s.Housekeeping.Actions.BatchSize <= 0 {
		return fmt.Errorf("housekeeping.actions.batch_size must be positive, got %d", s.Housekeeping.Actions.BatchSize)
	}
	if s.Housekeeping.Cache.BatchSize <= 0 {
		return fmt.Errorf("housekeeping.cache.batch_size must be positive, got %d", s.Housekeeping.Cache.BatchSize)
	}
	if s.Dispatcher.DedupTTL <= 0 {
		return fmt.Errorf("dispatcher.dedup_ttl must be positive")
	}
	return nil
}
