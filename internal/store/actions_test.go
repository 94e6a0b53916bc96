package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alekspetrov/scenarist/internal/timeutil"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*DB, *timeutil.FakeClock) {
	t.Helper()
	clock := timeutil.NewFakeClock(testStart)
	db, err := Open(Config{Driver: DriverModernc, Path: filepath.Join(t.TempDir(), "test.db")}, clock)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}

func int64Ptr(v int64) *int64 { return &v }

func TestAddAndGetAction(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	a := &Action{
		ActionType: "send",
		EventData:  map[string]any{"chat_id": int64(42), "message_id": int64(7)},
		ActionData: map[string]any{"type": "send", "text": "hi"},
	}
	id, err := s.AddAction(ctx, a)
	if err != nil {
		t.Fatalf("AddAction failed: %v", err)
	}
	if id == 0 || a.ID != id {
		t.Fatalf("expected assigned id, got %d (a.ID=%d)", id, a.ID)
	}

	got, err := s.GetActionByID(ctx, id)
	if err != nil {
		t.Fatalf("GetActionByID failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.EventData["chat_id"] != int64(42) {
		t.Errorf("event_data.chat_id = %v (%T)", got.EventData["chat_id"], got.EventData["chat_id"])
	}
	if got.ActionData["text"] != "hi" {
		t.Errorf("action_data.text = %v", got.ActionData["text"])
	}
	if got.PrevActionID != nil {
		t.Errorf("PrevActionID = %v, want nil", *got.PrevActionID)
	}
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt should be nil for a new row")
	}
	if !got.CreatedAt.Equal(testStart) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testStart)
	}
	if got.ResponseData != nil {
		t.Errorf("ResponseData = %v, want nil", got.ResponseData)
	}
}

func TestGetActionByIDNotFound(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)

	_, err := s.GetActionByID(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddActionValidation(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	if _, err := s.AddAction(ctx, &Action{}); err == nil {
		t.Error("expected error for empty action type")
	}
	if _, err := s.AddAction(ctx, &Action{ActionType: "send", Status: "weird"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUpdateAction(t *testing.T) {
	db, clock := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	id, err := s.AddAction(ctx, &Action{ActionType: "send"})
	if err != nil {
		t.Fatalf("AddAction failed: %v", err)
	}

	clock.Advance(5 * time.Second)
	err = s.UpdateAction(ctx, id, ActionUpdate{
		Status:       StatusCompleted,
		ResponseData: map[string]any{"success": true, "last_message_id": int64(100)},
	})
	if err != nil {
		t.Fatalf("UpdateAction failed: %v", err)
	}

	got, _ := s.GetActionByID(ctx, id)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(testStart.Add(5*time.Second)) {
		t.Errorf("ProcessedAt = %v", got.ProcessedAt)
	}
	if got.ResponseData["last_message_id"] != int64(100) {
		t.Errorf("response_data.last_message_id = %v", got.ResponseData["last_message_id"])
	}

	// processed_at is kept on later updates
	clock.Advance(time.Minute)
	if err := s.UpdateAction(ctx, id, ActionUpdate{Status: StatusFailed}); err != nil {
		t.Fatalf("UpdateAction failed: %v", err)
	}
	got, _ = s.GetActionByID(ctx, id)
	if !got.ProcessedAt.Equal(testStart.Add(5 * time.Second)) {
		t.Errorf("ProcessedAt changed to %v", got.ProcessedAt)
	}

	if err := s.UpdateAction(ctx, 12345, ActionUpdate{Status: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestGetPendingActionsByTypeOrdering(t *testing.T) {
	db, clock := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.AddAction(ctx, &Action{ActionType: "send"})
		if err != nil {
			t.Fatalf("AddAction failed: %v", err)
		}
		ids = append(ids, id)
	}
	clock.Advance(time.Second)
	removeID, _ := s.AddAction(ctx, &Action{ActionType: "remove"})
	_, _ = s.AddAction(ctx, &Action{ActionType: "send", Status: StatusHold})
	_ = s.UpdateAction(ctx, ids[1], ActionUpdate{Status: StatusCompleted})

	tests := []struct {
		name  string
		types []string
		limit int
		want  []int64
	}{
		{"send only", []string{"send"}, 0, []int64{ids[0], ids[2]}},
		{"both types", []string{"send", "remove"}, 0, []int64{ids[0], ids[2], removeID}},
		{"limited", []string{"send", "remove"}, 1, []int64{ids[0]}},
		{"no types", nil, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.GetPendingActionsByType(ctx, tt.types, tt.limit)
			if err != nil {
				t.Fatalf("GetPendingActionsByType failed: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("got %d rows, want %d", len(rows), len(tt.want))
			}
			for i, r := range rows {
				if r.ID != tt.want[i] {
					t.Errorf("row %d id = %d, want %d", i, r.ID, tt.want[i])
				}
			}
		})
	}
}

func TestGetActionsByPrevActionID(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	pred, _ := s.AddAction(ctx, &Action{ActionType: "send"})
	d1, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusHold, PrevActionID: int64Ptr(pred)})
	_, _ = s.AddAction(ctx, &Action{ActionType: "send", Status: StatusPending, PrevActionID: int64Ptr(pred)})

	all, err := s.GetActionsByPrevActionID(ctx, pred, nil, 0)
	if err != nil {
		t.Fatalf("GetActionsByPrevActionID failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 dependents, got %d", len(all))
	}

	held, _ := s.GetActionsByPrevActionID(ctx, pred, []Status{StatusHold}, 10)
	if len(held) != 1 || held[0].ID != d1 {
		t.Errorf("expected only held dependent %d, got %+v", d1, held)
	}
	if *held[0].PrevActionID != pred {
		t.Errorf("PrevActionID = %d, want %d", *held[0].PrevActionID, pred)
	}
}

func TestGetActionsForUnlocker(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	completed, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusCompleted})
	dropped, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusDrop})
	_, _ = s.AddAction(ctx, &Action{ActionType: "send", Status: StatusPending})
	_, _ = s.AddAction(ctx, &Action{ActionType: "send", Status: StatusFailed, IsUnlockerChecked: true})

	rows, err := s.GetActionsForUnlocker(ctx, nil, 0)
	if err != nil {
		t.Fatalf("GetActionsForUnlocker failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// drop rows are predecessors too
	if rows[0].ID != completed || rows[1].ID != dropped {
		t.Errorf("unexpected rows: %d, %d", rows[0].ID, rows[1].ID)
	}
}

func TestResolveDependents(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	predID, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusFailed})
	unlockID, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusHold, PrevActionID: int64Ptr(predID),
		UnlockStatus: []string{"failed"}})
	dropID, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusHold, PrevActionID: int64Ptr(predID),
		UnlockStatus: []string{"completed"}})

	pred, _ := s.GetActionByID(ctx, predID)
	counts, err := s.ResolveDependents(ctx, pred, func(dep *Action) Status {
		for _, st := range dep.UnlockStatus {
			if st == string(pred.Status) {
				return StatusPending
			}
		}
		return StatusDrop
	})
	if err != nil {
		t.Fatalf("ResolveDependents failed: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusDrop] != 1 {
		t.Errorf("counts = %v", counts)
	}

	u, _ := s.GetActionByID(ctx, unlockID)
	if u.Status != StatusPending || u.ProcessedAt != nil {
		t.Errorf("unlocked dependent: status=%q processed_at=%v", u.Status, u.ProcessedAt)
	}
	d, _ := s.GetActionByID(ctx, dropID)
	if d.Status != StatusDrop || d.ProcessedAt == nil {
		t.Errorf("dropped dependent: status=%q processed_at=%v", d.Status, d.ProcessedAt)
	}
	p, _ := s.GetActionByID(ctx, predID)
	if !p.IsUnlockerChecked {
		t.Error("predecessor should be marked checked")
	}

	rows, _ := s.GetActionsForUnlocker(ctx, nil, 0)
	for _, r := range rows {
		if r.ID == predID {
			t.Error("checked predecessor returned again")
		}
	}
}

func TestCleanupOldActions(t *testing.T) {
	db, clock := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.AddAction(ctx, &Action{ActionType: "send", Status: StatusCompleted})
	}
	clock.Advance(48 * time.Hour)
	keep, _ := s.AddAction(ctx, &Action{ActionType: "send"})

	n, err := s.CleanupOldActions(ctx, clock.Now().Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("CleanupOldActions failed: %v", err)
	}
	if n != 5 {
		t.Errorf("deleted %d rows, want 5", n)
	}
	if _, err := s.GetActionByID(ctx, keep); err != nil {
		t.Errorf("recent row should survive: %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	_, _ = s.AddAction(ctx, &Action{ActionType: "send"})
	_, _ = s.AddAction(ctx, &Action{ActionType: "send"})
	_, _ = s.AddAction(ctx, &Action{ActionType: "remove", Status: StatusFailed})

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	want := []StatusCount{
		{ActionType: "remove", Status: StatusFailed, Count: 1},
		{ActionType: "send", Status: StatusPending, Count: 2},
	}
	if len(counts) != len(want) {
		t.Fatalf("got %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestChainStatusesRoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	id, _ := s.AddAction(ctx, &Action{
		ActionType:      "send",
		Status:          StatusHold,
		UnlockStatus:    []string{"completed", "failed", "drop"},
		ChainDropStatus: []string{"failed"},
		PrevData:        map[string]any{"carry": "x"},
	})
	got, _ := s.GetActionByID(ctx, id)
	if len(got.UnlockStatus) != 3 || got.UnlockStatus[2] != "drop" {
		t.Errorf("UnlockStatus = %v", got.UnlockStatus)
	}
	if len(got.ChainDropStatus) != 1 || got.ChainDropStatus[0] != "failed" {
		t.Errorf("ChainDropStatus = %v", got.ChainDropStatus)
	}
	if got.PrevData["carry"] != "x" {
		t.Errorf("PrevData = %v", got.PrevData)
	}

	cols := got.Columns(time.UTC)
	if cols["status"] != "hold" || cols["id"] != id {
		t.Errorf("Columns = %v", cols)
	}
	if cols["created_at"] != timeutil.FormatISO(testStart, time.UTC) {
		t.Errorf("created_at column = %v", cols["created_at"])
	}
}

func TestResolveDependentsCarriesResponse(t *testing.T) {
	db, _ := setupTestDB(t)
	s := NewActionStore(db)
	ctx := context.Background()

	predID, _ := s.AddAction(ctx, &Action{ActionType: "send", Status: StatusCompleted,
		ResponseData: map[string]any{"success": true, "last_message_id": int64(99)}})
	depID, _ := s.AddAction(ctx, &Action{ActionType: "remove", Status: StatusHold, PrevActionID: int64Ptr(predID),
		UnlockStatus: []string{"completed"}})

	pred, _ := s.GetActionByID(ctx, predID)
	if _, err := s.ResolveDependents(ctx, pred, func(*Action) Status { return StatusPending }); err != nil {
		t.Fatalf("ResolveDependents failed: %v", err)
	}

	dep, _ := s.GetActionByID(ctx, depID)
	if dep.PrevData["last_message_id"] != int64(99) {
		t.Errorf("prev_data = %v, want predecessor response", dep.PrevData)
	}
}
