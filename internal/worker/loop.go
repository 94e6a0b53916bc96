// Package worker runs the background loops that drain the action queue: one
// loop per worker action type plus the unlocker that releases chained rows.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
)

// Response keys.
const (
	KeySuccess       = "success"
	KeyError         = "error"
	KeyLastMessageID = "last_message_id"
)

// Result is the outcome of one handled row.
type Result struct {
	Status   store.Status
	Response map[string]any
}

// Completed returns a successful result carrying resp.
func Completed(resp map[string]any) Result {
	if resp == nil {
		resp = map[string]any{}
	}
	resp[KeySuccess] = true
	return Result{Status: store.StatusCompleted, Response: resp}
}

// Failed returns a failed result describing err.
func Failed(err error) Result {
	return Result{
		Status:   store.StatusFailed,
		Response: map[string]any{KeySuccess: false, KeyError: err.Error()},
	}
}

// Handler executes one parsed action row.
type Handler interface {
	Handle(ctx context.Context, p *action.Parsed) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, p *action.Parsed) Result

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, p *action.Parsed) Result { return f(ctx, p) }

// Source supplies parsed pending rows.
type Source interface {
	Pending(ctx context.Context, types []string, limit int) ([]*action.Parsed, error)
}

// Updater stores the result of a row.
type Updater interface {
	UpdateAction(ctx context.Context, id int64, upd store.ActionUpdate) error
}

// Config holds the settings of one loop.
type Config struct {
	Name      string
	Types     []string
	BatchSize int
	Interval  time.Duration
}

// Loop polls pending rows of its types and hands them to a Handler.
type Loop struct {
	cfg     Config
	source  Source
	updates Updater
	handler Handler
	wake    chan struct{}
	done    func()
	log     *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(cfg Config, source Source, updates Updater, h Handler) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Name == "" && len(cfg.Types) > 0 {
		cfg.Name = cfg.Types[0]
	}
	return &Loop{
		cfg:     cfg,
		source:  source,
		updates: updates,
		handler: h,
		wake:    make(chan struct{}, 1),
		log:     logging.WithComponent("worker." + cfg.Name),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.cfg.Name }

// Types returns the action types served by the loop.
func (l *Loop) Types() []string { return l.cfg.Types }

// OnProcessed registers fn to run after a tick that finished at least one row.
func (l *Loop) OnProcessed(fn func()) { l.done = fn }

// Signal wakes the loop before its next interval. Signals coalesce.
func (l *Loop) Signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Worker started",
		slog.Any("types", l.cfg.Types),
		slog.Int("batch_size", l.cfg.BatchSize),
		slog.Duration("interval", l.cfg.Interval),
	)
	poll(ctx, l.cfg.Interval, l.wake, func(ctx context.Context) bool {
		n, err := l.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			l.log.Error("Failed to fetch pending actions", slog.Any("error", err))
		}
		return n >= l.cfg.BatchSize
	})
	l.log.Info("Worker stopped")
	return nil
}

// Tick processes one batch and returns the number of rows fetched.
func (l *Loop) Tick(ctx context.Context) (int, error) {
	rows, err := l.source.Pending(ctx, l.cfg.Types, l.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, p := range rows {
		if ctx.Err() != nil {
			break
		}
		l.process(ctx, p)
		processed++
	}
	if processed > 0 && l.done != nil {
		l.done()
	}
	return len(rows), nil
}

func (l *Loop) process(ctx context.Context, p *action.Parsed) {
	ctx = logging.ContextWithActionID(ctx, p.Action.ID)
	if cid := p.Data.String(event.KeyCorrelationID); cid != "" {
		ctx = logging.ContextWithCorrelationID(ctx, cid)
	}
	log := logging.FromContext(ctx, l.log)

	start := time.Now()
	var res Result
	if action.IsFailed(p.Action) {
		reason := action.FailReason(p.Action)
		log.Warn("Action marked failed, skipping handler", slog.String("fail_reason", reason))
		res = Failed(fmt.Errorf("action marked failed: %s", reason))
	} else {
		res = l.handle(ctx, p)
	}
	if err := l.updates.UpdateAction(ctx, p.Action.ID, store.ActionUpdate{
		Status:       res.Status,
		ResponseData: res.Response,
	}); err != nil {
		log.Error("Failed to store action result", slog.Any("error", err))
		return
	}
	log.Debug("Action processed",
		slog.String("status", string(res.Status)),
		slog.Duration("duration", time.Since(start)),
	)
}

func (l *Loop) handle(ctx context.Context, p *action.Parsed) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx, l.log).Error("Action handler panicked", slog.Any("panic", r))
			res = Failed(fmt.Errorf("panic: %v", r))
		}
	}()
	res = l.handler.Handle(ctx, p)
	if !res.Status.Valid() {
		res.Status = store.StatusCompleted
	}
	return res
}

// poll runs tick immediately and then after every interval or wake signal.
// A tick returning true asks for an immediate rerun.
func poll(ctx context.Context, interval time.Duration, wake <-chan struct{}, tick func(context.Context) bool) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-wake:
		}
		next := interval
		if tick(ctx) {
			next = 0
		}
		timer.Reset(next)
	}
}
