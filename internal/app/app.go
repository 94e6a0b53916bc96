// Package app wires the stores, the inbound pipeline and the background loops
// into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/dispatch"
	"github.com/alekspetrov/scenarist/internal/filecache"
	"github.com/alekspetrov/scenarist/internal/gateway"
	"github.com/alekspetrov/scenarist/internal/housekeeping"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/permission"
	"github.com/alekspetrov/scenarist/internal/scenario"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/telegram/botapi"
	"github.com/alekspetrov/scenarist/internal/telegram/mtproto"
	"github.com/alekspetrov/scenarist/internal/timeutil"
	"github.com/alekspetrov/scenarist/internal/trigger"
	"github.com/alekspetrov/scenarist/internal/worker"
)

// Options configures New. Settings is required; the rest override what New
// would otherwise build from Settings.
type Options struct {
	Settings *config.Settings
	Clock    timeutil.Clock
	// Messenger replaces the Bot API client. No update source is started when set.
	Messenger telegram.Messenger
	// DB replaces the database opened from Settings.Database. It is not
	// closed by App.Close.
	DB *store.DB
}

// App is a fully wired bot.
type App struct {
	settings  *config.Settings
	clock     timeutil.Clock
	db        *store.DB
	ownDB     bool
	actions   *store.ActionStore
	users     *store.UserStore
	states    *store.UserStateStore
	messenger telegram.Messenger
	transport *botapi.Transport
	mtproto   *mtproto.Client

	dispatcher *dispatch.Dispatcher
	loops      []*worker.Loop
	unlocker   *worker.Unlocker
	scheduler  *housekeeping.Scheduler
	cleaners   []housekeeping.Job
	collector  *gateway.Collector
	server     *gateway.Server

	startedAt time.Time
	log       *slog.Logger
}

// New builds every component described by opts.Settings.
func New(opts Options) (*App, error) {
	s := opts.Settings
	if s == nil {
		return nil, errors.New("settings are required")
	}
	clock := opts.Clock
	if clock == nil {
		c, err := timeutil.NewSystemClock(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
		clock = c
	}

	a := &App{
		settings:  s,
		clock:     clock,
		messenger: opts.Messenger,
		startedAt: clock.Now(),
		log:       logging.WithComponent("app"),
	}

	a.db = opts.DB
	if a.db == nil {
		db, err := store.Open(s.Database, clock)
		if err != nil {
			return nil, err
		}
		a.db, a.ownDB = db, true
	}
	a.actions = store.NewActionStore(a.db)
	a.users = store.NewUserStore(a.db)
	a.states = store.NewUserStateStore(a.db)

	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	s := a.settings

	scenarios, err := scenario.LoadStore(s.ScenariosDir())
	if err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}
	triggers, err := scenario.LoadTriggers(s.TriggersPath())
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	buttons := trigger.NewButtonMapper(scenario.CollectButtonTexts(scenarios, triggers))
	a.log.Info("Preset loaded",
		"preset", s.ActivePreset,
		"scenarios", scenarios.Len(),
		"trigger_rules", triggers.Len(),
		"buttons", buttons.Len())

	if a.messenger == nil {
		b, transport, err := botapi.NewBot(botapi.Config{
			Token:       s.Telegram.BotToken,
			APIURL:      s.Telegram.APIURL,
			PollTimeout: s.Telegram.PollTimeout,
		})
		if err != nil {
			return err
		}
		a.messenger = botapi.NewMessenger(b)
		if s.Telegram.Transport == config.TransportMTProto {
			client, err := mtproto.NewClient(mtproto.Config{
				AppID:       s.Telegram.MTProto.AppID,
				AppHash:     s.Telegram.MTProto.AppHash,
				BotToken:    s.Telegram.BotToken,
				SessionPath: s.Telegram.MTProto.SessionPath,
			})
			if err != nil {
				return err
			}
			a.messenger = mtproto.NewMessenger(a.messenger, client)
			a.mtproto = client
		} else {
			a.transport = transport
		}
	}

	var perms permission.Checker
	if checker := permission.NewSettingsChecker(s.Permissions); checker != nil {
		perms = checker
	}

	resolver := trigger.NewResolver(triggers, a.states, buttons)
	builder := action.NewChainBuilder(scenarios, a.actions, a.users, perms, a.clock)
	a.dispatcher = dispatch.New(s.Dispatcher, resolver, builder, a.clock)
	if a.transport != nil {
		a.transport.Bind(botapi.NewParser(a.clock), a.dispatcher.Handle)
	}
	if a.mtproto != nil {
		a.mtproto.Bind(mtproto.NewParser(a.clock), a.dispatcher.Handle)
	}

	cacheStore := store.NewCacheStore(a.db, s.Housekeeping.Cache.BasePath)
	files := filecache.New(cacheStore, s.FilesDir())

	handlers := map[string]worker.Handler{
		action.TypeSend:   worker.NewSend(a.messenger, files, buttons),
		action.TypeRemove: worker.NewRemove(a.messenger),
		action.TypeUser:   worker.NewUser(a.states, a.clock, s.UserState.DefaultExpire),
	}
	queue := action.NewQueue(a.actions, a.clock)
	for _, typ := range action.WorkerTypes {
		batch, interval, enabled := s.Workers.For(typ)
		if !enabled {
			a.log.Warn("Worker disabled", "type", typ)
			continue
		}
		a.loops = append(a.loops, worker.NewLoop(worker.Config{
			Name:      "worker." + typ,
			Types:     typesOf(typ),
			BatchSize: batch,
			Interval:  interval,
		}, queue, a.actions, handlers[typ]))
	}
	a.unlocker = worker.NewUnlocker(a.actions, s.Unlocker.BatchSize, s.Unlocker.Interval)

	a.dispatcher.OnEnqueued(a.signalWorkers)
	a.unlocker.OnRelease(a.signalWorkers)
	for _, l := range a.loops {
		l.OnProcessed(a.unlocker.Signal)
	}

	if cfg := s.Housekeeping.Actions; cfg.Enabled {
		a.cleaners = append(a.cleaners, housekeeping.NewActionCleaner(cfg, a.actions, a.states, a.db, a.clock).Job())
	}
	if cfg := s.Housekeeping.Cache; cfg.Enabled {
		a.cleaners = append(a.cleaners, housekeeping.NewCacheCleaner(cfg, cacheStore, a.db, a.clock).Job())
	}
	a.scheduler = housekeeping.NewScheduler(a.clock, a.cleaners...)

	a.collector = gateway.NewCollector(a.actions, a.users, s.ActivePreset, a.startedAt)
	if s.Status.Enabled {
		a.server = gateway.NewServer(gateway.Config{Listen: s.Status.Listen, Token: s.Status.Token}, a.collector, a.db)
	}
	return nil
}

// typesOf returns the stored action types served by the worker of typ.
func typesOf(typ string) []string {
	if typ == action.TypeUser {
		return []string{action.TypeUser, "user_state"}
	}
	return []string{typ}
}

func (a *App) signalWorkers() {
	for _, l := range a.loops {
		l.Signal()
	}
}

// Dispatcher returns the inbound pipeline.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Actions returns the action store.
func (a *App) Actions() *store.ActionStore { return a.actions }

// Collector returns the status collector.
func (a *App) Collector() *gateway.Collector { return a.collector }

// Run starts every long-lived task and blocks until ctx is cancelled or one
// of them fails. In-flight media groups are flushed before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.dispatcher.Run(ctx) })
	for _, l := range a.loops {
		g.Go(func() error { return l.Run(ctx) })
	}
	g.Go(func() error { return a.unlocker.Run(ctx) })
	if len(a.cleaners) > 0 {
		g.Go(func() error { return a.scheduler.Run(ctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.Start(ctx) })
	}
	if a.transport != nil {
		g.Go(func() error { return a.transport.Start(ctx) })
	}
	if a.mtproto != nil {
		g.Go(func() error { return a.mtproto.Start(ctx) })
	}

	a.log.Info("Scenarist running",
		"preset", a.settings.ActivePreset,
		"workers", len(a.loops),
		"housekeeping_jobs", len(a.cleaners),
		"transport", a.settings.Telegram.Transport,
		"status_server", a.server != nil)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.log.Error("Scenarist stopped with error", "error", err)
		return err
	}
	a.log.Info("Scenarist stopped")
	return nil
}

// Drain ticks the worker loops and the unlocker until a full round makes no
// progress or ctx is done.
func (a *App) Drain(ctx context.Context) error {
	for ctx.Err() == nil {
		progress := 0
		for _, l := range a.loops {
			n, err := l.Tick(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", l.Name(), err)
			}
			progress += n
		}
		checked, _, err := a.unlocker.Tick(ctx)
		if err != nil {
			return fmt.Errorf("unlocker: %w", err)
		}
		progress += checked
		if progress == 0 {
			return nil
		}
	}
	return ctx.Err()
}

// RunHousekeeping runs every enabled cleaner once.
func (a *App) RunHousekeeping(ctx context.Context) {
	a.scheduler.RunNow(ctx)
}

// Close releases the database when App opened it.
func (a *App) Close() error {
	if a.ownDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}
