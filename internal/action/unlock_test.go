package action

import (
	"testing"

	"github.com/alekspetrov/scenarist/internal/store"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		pred   store.Status
		unlock []string
		drop   []string
		want   store.Status
	}{
		{"completed unlocks", store.StatusCompleted, []string{"completed"}, nil, store.StatusPending},
		{"failed not in unlock drops", store.StatusFailed, []string{"completed"}, nil, store.StatusDrop},
		{"chain_drop wins over unlock", store.StatusFailed, []string{"completed", "failed", "drop"}, []string{"failed"}, store.StatusDrop},
		{"drop predecessor unlocks any", store.StatusDrop, []string{"completed", "failed", "drop"}, nil, store.StatusPending},
		{"drop predecessor without unlock", store.StatusDrop, []string{"completed"}, nil, store.StatusDrop},
		{"neither set drops", store.StatusCompleted, []string{"failed"}, []string{"drop"}, store.StatusDrop},
		{"pending predecessor holds", store.StatusPending, []string{"completed"}, nil, store.StatusHold},
		{"hold predecessor holds", store.StatusHold, []string{"completed"}, nil, store.StatusHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &store.Action{Status: tt.pred}
			dep := &store.Action{Status: store.StatusHold, UnlockStatus: tt.unlock, ChainDropStatus: tt.drop}
			if got := Decide(pred, dep); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecideFailedDependent(t *testing.T) {
	tests := []struct {
		name   string
		pred   store.Status
		unlock []string
		drop   []string
		want   store.Status
	}{
		{"unlocked denied row fails", store.StatusCompleted, []string{"completed"}, nil, store.StatusFailed},
		{"any status unlock still fails", store.StatusFailed, []string{"completed", "failed", "drop"}, nil, store.StatusFailed},
		{"chain_drop keeps drop", store.StatusFailed, []string{"completed", "failed", "drop"}, []string{"failed"}, store.StatusDrop},
		{"outside unlock set drops", store.StatusFailed, []string{"completed"}, nil, store.StatusDrop},
		{"pending predecessor holds", store.StatusPending, []string{"completed"}, nil, store.StatusHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &store.Action{Status: tt.pred}
			dep := &store.Action{
				Status:          store.StatusHold,
				UnlockStatus:    tt.unlock,
				ChainDropStatus: tt.drop,
				ActionData:      map[string]any{KeyIsFailed: true, KeyFailReason: FailAccessDenied},
			}
			if got := Decide(pred, dep); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
			if got := FailReason(dep); got != FailAccessDenied {
				t.Errorf("FailReason = %q, want %q", got, FailAccessDenied)
			}
		})
	}
}
