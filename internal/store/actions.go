package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// Status is the lifecycle state of an action row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusHold      Status = "hold"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDrop      Status = "drop"
)

// TerminalStatuses are the predecessor states that release or drop dependents.
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusDrop}

// IsTerminal reports whether s ends the row's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDrop:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusHold || s.IsTerminal()
}

// Action is one row of the actions queue.
type Action struct {
	ID                int64
	ActionType        string
	EventData         map[string]any
	ActionData        map[string]any
	ResponseData      map[string]any
	PrevData          map[string]any
	PlaceholderData   map[string]any
	Status            Status
	PrevActionID      *int64
	UnlockStatus      []string
	ChainDropStatus   []string
	IsUnlockerChecked bool
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}

// Columns returns the service columns of the row as a flat map, the last
// layer of action flattening.
func (a *Action) Columns(loc *time.Location) map[string]any {
	cols := map[string]any{
		"id":                  a.ID,
		"action_type":         a.ActionType,
		"status":              string(a.Status),
		"is_unlocker_checked": a.IsUnlockerChecked,
	}
	if a.PrevActionID != nil {
		cols["prev_action_id"] = *a.PrevActionID
	} else {
		cols["prev_action_id"] = nil
	}
	if a.UnlockStatus != nil {
		cols["unlock_status"] = append([]string(nil), a.UnlockStatus...)
	}
	if a.ChainDropStatus != nil {
		cols["chain_drop_status"] = append([]string(nil), a.ChainDropStatus...)
	}
	if !a.CreatedAt.IsZero() {
		cols["created_at"] = timeutil.FormatISO(a.CreatedAt, loc)
	}
	if a.ProcessedAt != nil {
		cols["processed_at"] = timeutil.FormatISO(*a.ProcessedAt, loc)
	}
	return cols
}

// ActionUpdate lists the mutable fields of a row. Nil fields are left as-is.
type ActionUpdate struct {
	Status            Status
	ResponseData      map[string]any
	PlaceholderData   map[string]any
	PrevData          map[string]any
	IsUnlockerChecked *bool
}

// StatusCount is one bucket of CountByStatus.
type StatusCount struct {
	ActionType string
	Status     Status
	Count      int64
}

// ActionStore provides CRUD over the actions table.
type ActionStore struct {
	db *DB
}

// NewActionStore creates an ActionStore.
func NewActionStore(db *DB) *ActionStore {
	return &ActionStore{db: db}
}

const actionColumns = `id, action_type, event_data, action_data, response_data, prev_data, placeholder_data,
	status, prev_action_id, unlock_status, chain_drop_status, is_unlocker_checked, created_at, processed_at`

// AddFunc inserts one action row and returns its ID.
type AddFunc func(ctx context.Context, a *Action) (int64, error)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddAction inserts a row and returns its ID. Empty status defaults to pending.
func (s *ActionStore) AddAction(ctx context.Context, a *Action) (int64, error) {
	return s.insert(ctx, s.db.db, a)
}

// AddChain runs fn with an AddFunc bound to one transaction. The rows become
// visible together on commit, so the unlocker never sees a predecessor
// without its dependents. An error from fn rolls every row back.
func (s *ActionStore) AddChain(ctx context.Context, fn func(add AddFunc) error) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(func(ctx context.Context, a *Action) (int64, error) {
			return s.insert(ctx, tx, a)
		})
	})
}

func (s *ActionStore) insert(ctx context.Context, ex execer, a *Action) (int64, error) {
	if a.ActionType == "" {
		return 0, fmt.Errorf("action type is required")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return 0, fmt.Errorf("invalid action status %q", a.Status)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.db.clock.Now()
	}

	args, err := encodeColumns(a.EventData, a.ActionData, a.ResponseData, a.PrevData, a.PlaceholderData, a.UnlockStatus, a.ChainDropStatus)
	if err != nil {
		return 0, err
	}
	var prev any
	if a.PrevActionID != nil {
		prev = *a.PrevActionID
	}

	res, err := ex.ExecContext(ctx, `
		INSERT INTO actions (action_type, event_data, action_data, response_data, prev_data, placeholder_data,
			unlock_status, chain_drop_status, status, prev_action_id, is_unlocker_checked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ActionType, args[0], args[1], args[2], args[3], args[4], args[5], args[6],
		string(a.Status), prev, a.IsUnlockerChecked, s.db.formatTime(a.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	a.ID = id
	return id, nil
}

// UpdateAction applies upd to row id. Setting a status also stamps
// processed_at when it is still empty.
func (s *ActionStore) UpdateAction(ctx context.Context, id int64, upd ActionUpdate) error {
	var sets []string
	var args []any

	if upd.Status != "" {
		if !upd.Status.Valid() {
			return fmt.Errorf("invalid action status %q", upd.Status)
		}
		sets = append(sets, "status = ?", "processed_at = COALESCE(processed_at, ?)")
		args = append(args, string(upd.Status), s.db.now())
	}
	for _, col := range []struct {
		name string
		val  map[string]any
	}{
		{"response_data", upd.ResponseData},
		{"placeholder_data", upd.PlaceholderData},
		{"prev_data", upd.PrevData},
	} {
		if col.val == nil {
			continue
		}
		enc, err := EncodeJSON(col.val)
		if err != nil {
			return err
		}
		sets = append(sets, col.name+" = ?")
		args = append(args, enc)
	}
	if upd.IsUnlockerChecked != nil {
		sets = append(sets, "is_unlocker_checked = ?")
		args = append(args, *upd.IsUnlockerChecked)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.db.ExecContext(ctx, "UPDATE actions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update action %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update action %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetActionByID returns one row.
func (s *ActionStore) GetActionByID(ctx context.Context, id int64) (*Action, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+actionColumns+" FROM actions WHERE id = ?", id)
	a, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetPendingActionsByType returns pending rows of the given types, oldest first.
func (s *ActionStore) GetPendingActionsByType(ctx context.Context, types []string, limit int) ([]*Action, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(types)+2)
	args = append(args, string(StatusPending))
	for _, t := range types {
		args = append(args, t)
	}
	query := "SELECT " + actionColumns + " FROM actions WHERE status = ? AND action_type IN (" + placeholders(len(types)) + ") ORDER BY created_at ASC, id ASC"
	query, args = withLimit(query, args, limit)
	return s.query(ctx, query, args...)
}

// GetActionsByPrevActionID returns the dependents of prev, optionally filtered by status.
func (s *ActionStore) GetActionsByPrevActionID(ctx context.Context, prev int64, statuses []Status, limit int) ([]*Action, error) {
	query := "SELECT " + actionColumns + " FROM actions WHERE prev_action_id = ?"
	args := []any{prev}
	query, args = withStatuses(query, args, statuses)
	query += " ORDER BY created_at ASC, id ASC"
	query, args = withLimit(query, args, limit)
	return s.query(ctx, query, args...)
}

// GetActionsForUnlocker returns rows not yet inspected by the unlocker. With no
// statuses it defaults to the terminal ones.
func (s *ActionStore) GetActionsForUnlocker(ctx context.Context, statuses []Status, limit int) ([]*Action, error) {
	if len(statuses) == 0 {
		statuses = TerminalStatuses
	}
	query := "SELECT " + actionColumns + " FROM actions WHERE is_unlocker_checked = 0"
	var args []any
	query, args = withStatuses(query, args, statuses)
	query += " ORDER BY created_at ASC, id ASC"
	query, args = withLimit(query, args, limit)
	return s.query(ctx, query, args...)
}

// ResolveDependents moves every hold dependent of pred to the status chosen by
// decide and marks pred as checked, in one transaction. A released dependent
// without prev_data inherits pred's response_data there.
func (s *ActionStore) ResolveDependents(ctx context.Context, pred *Action, decide func(dep *Action) Status) (map[Status]int, error) {
	counts := map[Status]int{}
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+actionColumns+" FROM actions WHERE prev_action_id = ? AND status = ? ORDER BY created_at ASC, id ASC",
			pred.ID, string(StatusHold))
		if err != nil {
			return fmt.Errorf("query dependents of %d: %w", pred.ID, err)
		}
		deps, err := s.collect(rows)
		if err != nil {
			return err
		}

		for _, dep := range deps {
			next := decide(dep)
			if next == StatusHold || !next.Valid() {
				continue
			}
			var processed any
			if next.IsTerminal() {
				processed = s.db.now()
			}
			var prev any
			if next == StatusPending && len(dep.PrevData) == 0 && len(pred.ResponseData) > 0 {
				if prev, err = EncodeJSON(pred.ResponseData); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, "UPDATE actions SET status = ?, processed_at = COALESCE(processed_at, ?), prev_data = COALESCE(?, prev_data) WHERE id = ?",
				string(next), processed, prev, dep.ID); err != nil {
				return fmt.Errorf("update dependent %d: %w", dep.ID, err)
			}
			counts[next]++
		}

		if _, err := tx.ExecContext(ctx, "UPDATE actions SET is_unlocker_checked = 1 WHERE id = ?", pred.ID); err != nil {
			return fmt.Errorf("mark %d checked: %w", pred.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pred.IsUnlockerChecked = true
	return counts, nil
}

// CleanupOldActions deletes rows created before cutoff, batchSize rows at a
// time, and returns the number deleted.
func (s *ActionStore) CleanupOldActions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.db.db.ExecContext(ctx, `
			DELETE FROM actions WHERE id IN (
				SELECT id FROM actions WHERE created_at < ? ORDER BY id LIMIT ?
			)`, s.db.formatTime(cutoff), batchSize)
		if err != nil {
			return total, fmt.Errorf("cleanup actions: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

// CountByStatus returns row counts grouped by type and status.
func (s *ActionStore) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT action_type, status, COUNT(*) FROM actions
		GROUP BY action_type, status ORDER BY action_type, status`)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		var status string
		if err := rows.Scan(&c.ActionType, &status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ActionStore) query(ctx context.Context, query string, args ...any) ([]*Action, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	return s.collect(rows)
}

func (s *ActionStore) collect(rows *sql.Rows) ([]*Action, error) {
	defer func() { _ = rows.Close() }()
	var out []*Action
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *ActionStore) scan(row scanner) (*Action, error) {
	var (
		a                                                     Action
		eventData, actionData, responseData, prevData, phData sql.NullString
		unlock, chainDrop, createdAt, processedAt             sql.NullString
		status                                                string
		prev                                                  sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.ActionType, &eventData, &actionData, &responseData, &prevData, &phData,
		&status, &prev, &unlock, &chainDrop, &a.IsUnlockerChecked, &createdAt, &processedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if prev.Valid {
		p := prev.Int64
		a.PrevActionID = &p
	}

	var err error
	for _, col := range []struct {
		src sql.NullString
		dst *map[string]any
	}{
		{eventData, &a.EventData},
		{actionData, &a.ActionData},
		{responseData, &a.ResponseData},
		{prevData, &a.PrevData},
		{phData, &a.PlaceholderData},
	} {
		if !col.src.Valid {
			continue
		}
		if *col.dst, err = DecodeJSONMap(col.src.String); err != nil {
			return nil, fmt.Errorf("action %d: %w", a.ID, err)
		}
	}
	if unlock.Valid {
		if a.UnlockStatus, err = DecodeJSONStrings(unlock.String); err != nil {
			return nil, fmt.Errorf("action %d: %w", a.ID, err)
		}
	}
	if chainDrop.Valid {
		if a.ChainDropStatus, err = DecodeJSONStrings(chainDrop.String); err != nil {
			return nil, fmt.Errorf("action %d: %w", a.ID, err)
		}
	}
	a.CreatedAt = s.db.parseTime(createdAt)
	a.ProcessedAt = s.db.parseTimePtr(processedAt)
	return &a, nil
}

func encodeColumns(values ...any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		enc, err := EncodeJSON(v)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

func withStatuses(query string, args []any, statuses []Status) (string, []any) {
	if len(statuses) == 0 {
		return query, args
	}
	query += " AND status IN (" + placeholders(len(statuses)) + ")"
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return query, args
}

func withLimit(query string, args []any, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	return query + " LIMIT ?", append(args, limit)
}
