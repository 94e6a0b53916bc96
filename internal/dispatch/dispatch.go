// Package dispatch turns inbound events into queued actions: it drops
// duplicates, merges media groups, resolves triggers and expands the matched
// scenarios.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// Resolver maps an event to scenario names.
type Resolver interface {
	Resolve(ctx context.Context, e event.Event) []string
}

// Builder enqueues the actions of a scenario.
type Builder interface {
	Build(ctx context.Context, e event.Event, name string) ([]int64, error)
}

// Result describes one dispatched event.
type Result struct {
	CorrelationID string
	Scenarios     []string
	ActionIDs     []int64
}

// Dispatcher is the inbound pipeline.
type Dispatcher struct {
	dedup    *event.DedupCache
	groups   *event.MediaGroupProcessor
	resolver Resolver
	builder  Builder
	log      *slog.Logger

	mu       sync.Mutex
	base     context.Context
	enqueued []func()
}

// New creates a Dispatcher.
func New(cfg config.DispatcherConfig, resolver Resolver, builder Builder, clock timeutil.Clock) *Dispatcher {
	d := &Dispatcher{
		dedup:    event.NewDedupCache(cfg.DedupTTL, cfg.DedupCompactEvery, clock),
		resolver: resolver,
		builder:  builder,
		base:     context.Background(),
		log:      logging.WithComponent("dispatcher"),
	}
	d.groups = event.NewMediaGroupProcessor(cfg.MediaGroupTimeout, func(e event.Event) {
		d.Dispatch(d.context(), e)
	})
	return d
}

// OnEnqueued registers fn to run whenever a dispatch inserted actions.
func (d *Dispatcher) OnEnqueued(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, fn)
}

// Run keeps ctx as the parent of media-group dispatches until it is
// cancelled, then flushes the buffered groups.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	<-ctx.Done()

	// flush into a context that still allows the final inserts
	d.mu.Lock()
	d.base = context.WithoutCancel(ctx)
	d.mu.Unlock()
	d.groups.Stop()
	return nil
}

func (d *Dispatcher) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base
}

// Handle accepts an event from a transport. Duplicates are dropped and media
// group members are buffered; anything else is dispatched immediately.
func (d *Dispatcher) Handle(ctx context.Context, e event.Event) {
	if d.dedup.Seen(e) {
		d.log.Debug("Duplicate event dropped", slog.String("key", e.DedupKey()))
		return
	}
	if d.groups.Add(e) {
		return
	}
	d.Dispatch(ctx, e)
}

// Dispatch resolves e and enqueues every matched scenario in order.
func (d *Dispatcher) Dispatch(ctx context.Context, e event.Event) Result {
	cid := uuid.NewString()
	e[event.KeyCorrelationID] = cid
	ctx = logging.ContextWithCorrelationID(ctx, cid)
	log := logging.FromContext(ctx, d.log)

	res := Result{CorrelationID: cid, Scenarios: d.resolver.Resolve(ctx, e)}
	if len(res.Scenarios) == 0 {
		log.Debug("No trigger matched",
			slog.String("source_type", e.SourceType()),
			slog.Int64("chat_id", e.ChatID()),
		)
		return res
	}

	for _, name := range res.Scenarios {
		ids, err := d.builder.Build(ctx, e, name)
		res.ActionIDs = append(res.ActionIDs, ids...)
		if err != nil {
			log.Error("Failed to enqueue scenario", slog.String("scenario", name), slog.Any("error", err))
		}
	}
	log.Info("Event dispatched",
		slog.String("source_type", e.SourceType()),
		slog.Int64("chat_id", e.ChatID()),
		slog.Any("scenarios", res.Scenarios),
		slog.Int("actions", len(res.ActionIDs)),
	)

	if len(res.ActionIDs) > 0 {
		d.mu.Lock()
		fns := append([]func(){}, d.enqueued...)
		d.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
	return res
}

// PendingGroups returns the number of media groups waiting for their timeout.
func (d *Dispatcher) PendingGroups() int { return d.groups.Pending() }
