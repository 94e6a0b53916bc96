package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
)

// UnlockStore is the subset of the action store used by the unlocker.
type UnlockStore interface {
	GetActionsForUnlocker(ctx context.Context, statuses []store.Status, limit int) ([]*store.Action, error)
	ResolveDependents(ctx context.Context, pred *store.Action, decide func(dep *store.Action) store.Status) (map[store.Status]int, error)
}

// Unlocker releases or drops hold rows once their predecessor is terminal.
type Unlocker struct {
	store     UnlockStore
	batchSize int
	interval  time.Duration
	wake      chan struct{}
	released  func()
	log       *slog.Logger
}

// NewUnlocker creates an Unlocker.
func NewUnlocker(s UnlockStore, batchSize int, interval time.Duration) *Unlocker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Unlocker{
		store:     s,
		batchSize: batchSize,
		interval:  interval,
		wake:      make(chan struct{}, 1),
		log:       logging.WithComponent("unlocker"),
	}
}

// OnRelease registers fn to run after a tick that moved rows to pending.
func (u *Unlocker) OnRelease(fn func()) { u.released = fn }

// Signal wakes the unlocker before its next interval.
func (u *Unlocker) Signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (u *Unlocker) Run(ctx context.Context) error {
	u.log.Info("Unlocker started", slog.Int("batch_size", u.batchSize), slog.Duration("interval", u.interval))
	poll(ctx, u.interval, u.wake, func(ctx context.Context) bool {
		n, _, err := u.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			u.log.Error("Failed to fetch unlocker candidates", slog.Any("error", err))
		}
		return n >= u.batchSize
	})
	u.log.Info("Unlocker stopped")
	return nil
}

// Tick inspects one batch of terminal predecessors. It returns the number of
// predecessors fetched and the number of dependents moved to pending.
func (u *Unlocker) Tick(ctx context.Context) (checked, released int, err error) {
	preds, err := u.store.GetActionsForUnlocker(ctx, store.TerminalStatuses, u.batchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, pred := range preds {
		if ctx.Err() != nil {
			break
		}
		counts, err := u.store.ResolveDependents(ctx, pred, func(dep *store.Action) store.Status {
			return action.Decide(pred, dep)
		})
		if err != nil {
			u.log.Error("Failed to resolve dependents", slog.Int64("action_id", pred.ID), slog.Any("error", err))
			continue
		}
		if n := counts[store.StatusPending] + counts[store.StatusDrop]; n > 0 {
			u.log.Debug("Dependents resolved",
				slog.Int64("action_id", pred.ID),
				slog.String("status", string(pred.Status)),
				slog.Int("pending", counts[store.StatusPending]),
				slog.Int("drop", counts[store.StatusDrop]),
			)
		}
		released += counts[store.StatusPending]
	}
	if released > 0 && u.released != nil {
		u.released()
	}
	return len(preds), released, nil
}
