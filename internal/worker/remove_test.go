package worker

import (
	"context"
	"testing"

	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
)

func TestRemove(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		deleteErr  error
		wantStatus store.Status
		wantIDs    []int64
	}{
		{"remove_message_id wins", map[string]any{"chat_id": int64(42), "message_id": int64(7), "remove_message_id": "9"}, nil, store.StatusCompleted, []int64{9}},
		{"falls back to message_id", map[string]any{"chat_id": int64(42), "message_id": int64(7)}, nil, store.StatusCompleted, []int64{7}},
		{"list of ids", map[string]any{"chat_id": int64(42), "remove_message_id": []any{int64(3), int64(4)}}, nil, store.StatusCompleted, []int64{3, 4}},
		{"missing id fails", map[string]any{"chat_id": int64(42)}, nil, store.StatusFailed, nil},
		{"missing chat fails", map[string]any{"message_id": int64(7)}, nil, store.StatusFailed, nil},
		{"telegram error fails", map[string]any{"chat_id": int64(42), "message_id": int64(7)}, telegram.ErrMessageGone, store.StatusFailed, []int64{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMessenger{deleteErr: tt.deleteErr}
			res := NewRemove(m).Handle(context.Background(), parsed(tt.data))
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (%v)", res.Status, tt.wantStatus, res.Response)
			}
			if len(m.deletes) != len(tt.wantIDs) {
				t.Fatalf("deletes = %v, want ids %v", m.deletes, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if m.deletes[i] != [2]int64{42, id} {
					t.Errorf("delete %d = %v, want (42, %d)", i, m.deletes[i], id)
				}
			}
		})
	}
}
