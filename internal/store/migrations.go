package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alekspetrov/scenarist/internal/logging"
)

// RecreateTables drops and recreates every table, losing all data.
func (d *DB) RecreateTables(ctx context.Context) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if err := d.DropTable(ctx, Tables[i]); err != nil {
			return err
		}
	}
	return d.migrate(ctx)
}

// RecreateIndexes drops and recreates every index.
func (d *DB) RecreateIndexes(ctx context.Context) error {
	for _, idx := range indexes {
		if _, err := d.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
			return fmt.Errorf("drop index %s: %w", idx.name, err)
		}
	}
	return d.createIndexes(ctx)
}

// Migrate creates missing tables, columns and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	return d.migrate(ctx)
}

// DropTable drops one known table.
func (d *DB) DropTable(ctx context.Context, name string) error {
	if _, ok := tableDDL[name]; !ok {
		return fmt.Errorf("unknown table %q", name)
	}
	if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	logging.WithComponent("store").Info("Table dropped", "table", name)
	return nil
}

// All recreates tables, then indexes.
func (d *DB) All(ctx context.Context) error {
	if err := d.RecreateTables(ctx); err != nil {
		return err
	}
	return d.RecreateIndexes(ctx)
}

// WithBackup copies the database file at path to path+".bak", runs fn and
// restores the copy when fn fails. A missing database file is not backed up.
func WithBackup(path string, fn func() error) error {
	log := logging.WithComponent("store")
	backup := path + ".bak"

	hasFile := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		hasFile = false
	}
	if hasFile {
		if err := copyFile(path, backup); err != nil {
			return fmt.Errorf("backup database: %w", err)
		}
		log.Info("Database backed up", "backup", backup)
	}

	if err := fn(); err != nil {
		if hasFile {
			if rerr := copyFile(backup, path); rerr != nil {
				return fmt.Errorf("%w (restore failed: %v)", err, rerr)
			}
			for _, suffix := range []string{"-wal", "-shm"} {
				_ = os.Remove(path + suffix)
			}
			log.Warn("Migration failed, database restored", "backup", backup, "error", err)
		}
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
