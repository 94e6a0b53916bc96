package main

import (
	"strings"
	"testing"

	"github.com/alekspetrov/scenarist/internal/gateway"
)

func TestMigrateOperation(t *testing.T) {
	tests := []struct {
		name    string
		flags   migrateFlags
		want    string
		wantErr bool
	}{
		{"none", migrateFlags{}, "", true},
		{"recreate tables", migrateFlags{recreateTables: true}, "recreate-tables", false},
		{"recreate indexes", migrateFlags{recreateIndexes: true}, "recreate-indexes", false},
		{"migrate", migrateFlags{migrate: true}, "migrate", false},
		{"drop table", migrateFlags{dropTable: "actions"}, "drop-table", false},
		{"all", migrateFlags{all: true}, "all", false},
		{"exclusive", migrateFlags{migrate: true, all: true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, run, err := tt.flags.operation()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.want || run == nil {
				t.Errorf("operation() = %q, want %q", name, tt.want)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	snap := &gateway.Snapshot{
		Preset: "default",
		Actions: []gateway.TypeCounts{
			{ActionType: "send", Statuses: map[string]int64{"completed": 4, "pending": 1}, Total: 5},
		},
		Totals: map[string]int64{"completed": 4, "pending": 1, "archived": 2},
		Users:  3,
	}
	out := renderStatus(snap, "data/scenarist.db")

	for _, want := range []string{"Scenarist Status", "preset default", "users 3", "send", "all", "other statuses: [archived]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
