package gateway

import (
	"context"
	"sort"
	"time"

	"github.com/alekspetrov/scenarist/internal/store"
)

// StatusCounter reports action counts.
type StatusCounter interface {
	CountByStatus(ctx context.Context) ([]store.StatusCount, error)
}

// UserCounter reports the number of known users.
type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

// TypeCounts holds the row counts of one action type, keyed by status.
type TypeCounts struct {
	ActionType string           `json:"action_type"`
	Statuses   map[string]int64 `json:"statuses"`
	Total      int64            `json:"total"`
}

// Snapshot is the queue status served by /api/v1/status.
type Snapshot struct {
	Preset    string           `json:"preset,omitempty"`
	Actions   []TypeCounts     `json:"actions"`
	Totals    map[string]int64 `json:"totals"`
	Users     int64            `json:"users"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
}

// Collector builds snapshots from the store.
type Collector struct {
	actions   StatusCounter
	users     UserCounter
	preset    string
	startedAt time.Time
}

// NewCollector creates a Collector. users may be nil; a zero startedAt omits
// the uptime.
func NewCollector(actions StatusCounter, users UserCounter, preset string, startedAt time.Time) *Collector {
	return &Collector{actions: actions, users: users, preset: preset, startedAt: startedAt}
}

// Snapshot queries the current counts.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	counts, err := c.actions.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Preset: c.preset, Totals: map[string]int64{}, Actions: []TypeCounts{}}

	byType := map[string]*TypeCounts{}
	for _, sc := range counts {
		tc, ok := byType[sc.ActionType]
		if !ok {
			tc = &TypeCounts{ActionType: sc.ActionType, Statuses: map[string]int64{}}
			byType[sc.ActionType] = tc
		}
		tc.Statuses[string(sc.Status)] += sc.Count
		tc.Total += sc.Count
		snap.Totals[string(sc.Status)] += sc.Count
	}
	for _, tc := range byType {
		snap.Actions = append(snap.Actions, *tc)
	}
	sort.Slice(snap.Actions, func(i, j int) bool { return snap.Actions[i].ActionType < snap.Actions[j].ActionType })

	if c.users != nil {
		if snap.Users, err = c.users.Count(ctx); err != nil {
			return nil, err
		}
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		snap.StartedAt = &started
		snap.Uptime = time.Since(started).Round(time.Second).String()
	}
	return snap, nil
}
