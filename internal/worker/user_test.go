package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alekspetrov/scenarist/internal/store"
)

func TestUserSetState(t *testing.T) {
	db, clock := setupDB(t)
	states := store.NewUserStateStore(db)
	ctx := context.Background()
	h := NewUser(states, clock, 24*time.Hour)

	res := h.Handle(ctx, parsed(map[string]any{
		"user_id":        int64(5),
		"user_state":     "awaiting_email",
		"expire_seconds": int64(60),
		"state_data":     map[string]any{"step": int64(2)},
	}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q: %v", res.Status, res.Response)
	}

	st, err := states.Get(ctx, 5)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.StateType != "awaiting_email" || st.StateData["step"] != int64(2) {
		t.Errorf("state = %+v", st)
	}
	if st.ExpiredAt == nil || !st.ExpiredAt.Equal(testStart.Add(time.Minute)) {
		t.Errorf("expired_at = %v, want %v", st.ExpiredAt, testStart.Add(time.Minute))
	}

	clock.Advance(2 * time.Minute)
	if _, err := states.Get(ctx, 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestUserDefaultExpire(t *testing.T) {
	db, clock := setupDB(t)
	states := store.NewUserStateStore(db)
	ctx := context.Background()

	res := NewUser(states, clock, time.Hour).Handle(ctx, parsed(map[string]any{"user_id": int64(5), "user_state": "menu"}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	st, err := states.Get(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if st.ExpiredAt == nil || !st.ExpiredAt.Equal(testStart.Add(time.Hour)) {
		t.Errorf("expired_at = %v, want default expiry", st.ExpiredAt)
	}
}

func TestUserClearState(t *testing.T) {
	db, clock := setupDB(t)
	states := store.NewUserStateStore(db)
	ctx := context.Background()
	if err := states.Set(ctx, 5, "menu", nil, testStart.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	res := NewUser(states, clock, time.Hour).Handle(ctx, parsed(map[string]any{"user_id": int64(5), "user_state": ""}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	if _, err := states.Get(ctx, 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after clear = %v, want ErrNotFound", err)
	}
}

func TestUserRequiresFields(t *testing.T) {
	db, clock := setupDB(t)
	h := NewUser(store.NewUserStateStore(db), clock, time.Hour)
	for _, data := range []map[string]any{
		{"user_state": "menu"},
		{"user_id": int64(5)},
	} {
		if res := h.Handle(context.Background(), parsed(data)); res.Status != store.StatusFailed {
			t.Errorf("Handle(%v) status = %q, want failed", data, res.Status)
		}
	}
}
