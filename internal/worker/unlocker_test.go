package worker

import (
	"context"
	"testing"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/store"
)

func int64Ptr(v int64) *int64 { return &v }

func TestUnlockerTick(t *testing.T) {
	tests := []struct {
		name      string
		pred      store.Status
		unlock    []string
		chainDrop []string
		want      store.Status
	}{
		{"completed unlocks", store.StatusCompleted, []string{"completed"}, nil, store.StatusPending},
		{"failed not in unlock drops", store.StatusFailed, []string{"completed"}, nil, store.StatusDrop},
		{"chain_drop wins", store.StatusFailed, []string{"completed", "failed", "drop"}, []string{"failed"}, store.StatusDrop},
		{"no match drops", store.StatusCompleted, []string{"failed"}, []string{"drop"}, store.StatusDrop},
		{"drop predecessor unlocks any", store.StatusDrop, []string{"completed", "failed", "drop"}, nil, store.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := setupDB(t)
			actions := store.NewActionStore(db)
			ctx := context.Background()

			predID, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: tt.pred})
			depID, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusHold,
				PrevActionID: int64Ptr(predID), UnlockStatus: tt.unlock, ChainDropStatus: tt.chainDrop})

			released := 0
			u := NewUnlocker(actions, 10, 0)
			u.OnRelease(func() { released++ })
			if _, _, err := u.Tick(ctx); err != nil {
				t.Fatalf("Tick failed: %v", err)
			}

			dep, _ := actions.GetActionByID(ctx, depID)
			if dep.Status != tt.want {
				t.Errorf("dependent status = %q, want %q", dep.Status, tt.want)
			}
			if wantReleased := tt.want == store.StatusPending; (released == 1) != wantReleased {
				t.Errorf("OnRelease calls = %d", released)
			}
			pred, _ := actions.GetActionByID(ctx, predID)
			if !pred.IsUnlockerChecked {
				t.Error("predecessor not marked checked")
			}
		})
	}
}

func TestUnlockerFailsMarkedDependents(t *testing.T) {
	tests := []struct {
		name      string
		pred      store.Status
		unlock    []string
		chainDrop []string
		want      store.Status
	}{
		{"completed predecessor", store.StatusCompleted, []string{"completed"}, nil, store.StatusFailed},
		{"chain any after failure", store.StatusFailed, []string{"completed", "failed", "drop"}, nil, store.StatusFailed},
		{"chain_drop hit", store.StatusFailed, []string{"completed", "failed", "drop"}, []string{"failed"}, store.StatusDrop},
		{"outside unlock set", store.StatusFailed, []string{"completed"}, nil, store.StatusDrop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := setupDB(t)
			actions := store.NewActionStore(db)
			ctx := context.Background()

			predID, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: tt.pred})
			depID, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusHold,
				PrevActionID: int64Ptr(predID), UnlockStatus: tt.unlock, ChainDropStatus: tt.chainDrop,
				ActionData: map[string]any{action.KeyIsFailed: true, action.KeyFailReason: action.FailAccessDenied}})

			released := 0
			u := NewUnlocker(actions, 10, 0)
			u.OnRelease(func() { released++ })
			if _, _, err := u.Tick(ctx); err != nil {
				t.Fatalf("Tick failed: %v", err)
			}

			dep, _ := actions.GetActionByID(ctx, depID)
			if dep.Status != tt.want {
				t.Errorf("dependent status = %q, want %q", dep.Status, tt.want)
			}
			if dep.ProcessedAt == nil {
				t.Error("processed_at not stamped on terminal dependent")
			}
			if released != 0 {
				t.Errorf("OnRelease called %d times, want 0", released)
			}
			if dep.ActionData[action.KeyFailReason] != action.FailAccessDenied {
				t.Errorf("fail_reason = %v", dep.ActionData[action.KeyFailReason])
			}
		})
	}
}

func TestUnlockerCascadesDrops(t *testing.T) {
	db, _ := setupDB(t)
	actions := store.NewActionStore(db)
	ctx := context.Background()

	a, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusFailed})
	b, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusHold,
		PrevActionID: int64Ptr(a), UnlockStatus: []string{"completed"}})
	c, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusHold,
		PrevActionID: int64Ptr(b), UnlockStatus: []string{"completed"}})

	u := NewUnlocker(actions, 10, 0)
	for i := 0; i < 3; i++ {
		if _, _, err := u.Tick(ctx); err != nil {
			t.Fatalf("Tick %d failed: %v", i, err)
		}
	}

	for _, id := range []int64{b, c} {
		row, _ := actions.GetActionByID(ctx, id)
		if row.Status != store.StatusDrop {
			t.Errorf("row %d status = %q, want drop", id, row.Status)
		}
	}
	if checked, _, _ := u.Tick(ctx); checked != 0 {
		t.Errorf("Tick returned %d unchecked rows after settling", checked)
	}
}

func TestUnlockerLeavesPendingPredecessor(t *testing.T) {
	db, _ := setupDB(t)
	actions := store.NewActionStore(db)
	ctx := context.Background()

	a, _ := actions.AddAction(ctx, &store.Action{ActionType: "send"})
	b, _ := actions.AddAction(ctx, &store.Action{ActionType: "send", Status: store.StatusHold,
		PrevActionID: int64Ptr(a), UnlockStatus: []string{"completed"}})

	if _, _, err := NewUnlocker(actions, 10, 0).Tick(ctx); err != nil {
		t.Fatal(err)
	}
	row, _ := actions.GetActionByID(ctx, b)
	if row.Status != store.StatusHold {
		t.Errorf("dependent of pending row = %q, want hold", row.Status)
	}
}
