package action

import (
	"context"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/placeholder"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// KeyPlaceholder enables token substitution for an action.
const KeyPlaceholder = "placeholder"

// PendingStore is the subset of the action store used by the queue.
type PendingStore interface {
	GetPendingActionsByType(ctx context.Context, types []string, limit int) ([]*store.Action, error)
	UpdateAction(ctx context.Context, id int64, upd store.ActionUpdate) error
}

// Parsed is a pending row with its flattened, placeholder-resolved data.
type Parsed struct {
	Action *store.Action
	Data   flat.Map
}

// Queue is the parsed read side of the action store.
type Queue struct {
	store PendingStore
	clock timeutil.Clock
}

// NewQueue creates a Queue.
func NewQueue(s PendingStore, clock timeutil.Clock) *Queue {
	return &Queue{store: s, clock: clock}
}

// Pending returns the pending rows of types, oldest first, ready to execute.
func (q *Queue) Pending(ctx context.Context, types []string, limit int) ([]*Parsed, error) {
	rows, err := q.store.GetPendingActionsByType(ctx, types, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Parsed, 0, len(rows))
	for _, a := range rows {
		out = append(out, q.Parse(ctx, a))
	}
	return out, nil
}

// Parse flattens a row. When the action asks for placeholders and none were
// resolved yet, the resolved action data is written back to
// placeholder_data; later reads reuse it as-is.
func (q *Queue) Parse(ctx context.Context, a *store.Action) *Parsed {
	if flat.Truthy(a.ActionData[KeyPlaceholder]) && len(a.PlaceholderData) == 0 {
		values := placeholder.NewValues(ContextOf(a, q.clock.Location()).Flatten(q.clock))
		resolved, _ := placeholder.Resolve(a.ActionData, values).(map[string]any)
		if len(resolved) > 0 {
			a.PlaceholderData = resolved
			if err := q.store.UpdateAction(ctx, a.ID, store.ActionUpdate{PlaceholderData: resolved}); err != nil {
				logging.WithContext(logging.ContextWithActionID(ctx, a.ID)).
					Warn("Failed to persist placeholder data", "error", err)
			}
		}
	}
	return &Parsed{
		Action: a,
		Data:   ContextOf(a, q.clock.Location()).Flatten(q.clock),
	}
}
