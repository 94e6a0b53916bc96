package store

import (
	"context"
	"fmt"
	"strings"
)

// Tables lists every table owned by the store, in creation order.
var Tables = []string{"actions", "users", "user_states", "cache"}

var tableDDL = map[string]string{
	"actions": `CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		event_data TEXT,
		action_data TEXT,
		response_data TEXT,
		prev_data TEXT,
		placeholder_data TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		prev_action_id INTEGER,
		unlock_status TEXT,
		chain_drop_status TEXT,
		is_unlocker_checked INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	"users": `CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		is_bot INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_activity TEXT
	)`,
	"user_states": `CREATE TABLE IF NOT EXISTS user_states (
		user_id INTEGER PRIMARY KEY,
		state_type TEXT,
		state_data TEXT,
		updated_at TEXT NOT NULL,
		expired_at TEXT
	)`,
	"cache": `CREATE TABLE IF NOT EXISTS cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash_key TEXT NOT NULL UNIQUE,
		hash_metadata TEXT,
		hash_file_path TEXT,
		created_at TEXT NOT NULL
	)`,
}

type indexDef struct {
	name  string
	table string
	ddl   string
}

var indexes = []indexDef{
	{"idx_actions_status_created", "actions", `CREATE INDEX IF NOT EXISTS idx_actions_status_created ON actions(status, created_at)`},
	{"idx_actions_prev_status", "actions", `CREATE INDEX IF NOT EXISTS idx_actions_prev_status ON actions(prev_action_id, status)`},
	{"idx_actions_unlocker", "actions", `CREATE INDEX IF NOT EXISTS idx_actions_unlocker ON actions(is_unlocker_checked, status, created_at)`},
	{"idx_actions_type_status", "actions", `CREATE INDEX IF NOT EXISTS idx_actions_type_status ON actions(action_type, status, created_at)`},
	{"idx_actions_created", "actions", `CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at)`},
	{"idx_user_states_expired", "user_states", `CREATE INDEX IF NOT EXISTS idx_user_states_expired ON user_states(expired_at)`},
	{"idx_cache_created", "cache", `CREATE INDEX IF NOT EXISTS idx_cache_created ON cache(created_at)`},
}

// columnMigrations add columns introduced after a table's first release.
// "duplicate column" errors mean the column already exists.
var columnMigrations = []string{
	`ALTER TABLE actions ADD COLUMN prev_data TEXT`,
	`ALTER TABLE actions ADD COLUMN placeholder_data TEXT`,
	`ALTER TABLE actions ADD COLUMN chain_drop_status TEXT`,
	`ALTER TABLE actions ADD COLUMN is_unlocker_checked INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE users ADD COLUMN last_activity TEXT`,
}

// migrate creates missing tables, columns and indexes.
func (d *DB) migrate(ctx context.Context) error {
	for _, name := range Tables {
		if _, err := d.db.ExecContext(ctx, tableDDL[name]); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	for _, m := range columnMigrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return d.createIndexes(ctx)
}

func (d *DB) createIndexes(ctx context.Context) error {
	for _, idx := range indexes {
		if _, err := d.db.ExecContext(ctx, idx.ddl); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
