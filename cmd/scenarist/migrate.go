package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// dbOp is a maintenance method of store.DB.
type dbOp = func(db *store.DB, ctx context.Context) error

type migrateFlags struct {
	recreateTables  bool
	recreateIndexes bool
	migrate         bool
	dropTable       string
	all             bool
}

// operation returns the DB method selected by the flags.
func (f migrateFlags) operation() (string, dbOp, error) {
	type op struct {
		name string
		set  bool
		run  dbOp
	}
	ops := []op{
		{"recreate-tables", f.recreateTables, (*store.DB).RecreateTables},
		{"recreate-indexes", f.recreateIndexes, (*store.DB).RecreateIndexes},
		{"migrate", f.migrate, (*store.DB).Migrate},
		{"drop-table", f.dropTable != "", func(db *store.DB, ctx context.Context) error {
			return db.DropTable(ctx, f.dropTable)
		}},
		{"all", f.all, (*store.DB).All},
	}

	var chosen []op
	for _, o := range ops {
		if o.set {
			chosen = append(chosen, o)
		}
	}
	switch len(chosen) {
	case 0:
		return "", nil, errors.New("one of --recreate-tables, --recreate-indexes, --migrate, --drop-table or --all is required")
	case 1:
		return chosen[0].name, chosen[0].run, nil
	}
	return "", nil, errors.New("migration flags are mutually exclusive")
}

func newMigrateCmd(configDir *string) *cobra.Command {
	var f migrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database maintenance (backs up the file first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, run, err := f.operation()
			if err != nil {
				return err
			}
			s, err := loadSettings(*configDir)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()

			clock, err := timeutil.NewSystemClock(s.Timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
			}

			err = store.WithBackup(s.Database.Path, func() error {
				db, err := store.Open(s.Database, clock)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				return run(db, cmd.Context())
			})
			if err != nil {
				return fmt.Errorf("%s failed: %w", name, err)
			}
			fmt.Printf("✓ %s completed on %s\n", name, s.Database.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&f.recreateTables, "recreate-tables", false, "Drop and recreate every table (data is lost)")
	cmd.Flags().BoolVar(&f.recreateIndexes, "recreate-indexes", false, "Drop and recreate every index")
	cmd.Flags().BoolVar(&f.migrate, "migrate", false, "Create missing tables, columns and indexes")
	cmd.Flags().StringVar(&f.dropTable, "drop-table", "", "Drop one table")
	cmd.Flags().BoolVar(&f.all, "all", false, "Recreate tables, then indexes")
	return cmd
}
