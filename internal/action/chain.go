package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/permission"
	"github.com/alekspetrov/scenarist/internal/scenario"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// MaxDepth bounds nested scenario expansion.
const MaxDepth = 16

// ErrMalformedScenario marks scenario definitions that cannot be expanded.
var ErrMalformedScenario = errors.New("malformed scenario")

// anyStatus is what chain: true and chain: any unlock on.
var anyStatus = []string{string(store.StatusCompleted), string(store.StatusFailed), string(store.StatusDrop)}

// Scenarios looks scenarios up by name.
type Scenarios interface {
	Get(name string) (*scenario.Scenario, error)
}

// Inserter persists the rows of one build in a single transaction.
type Inserter interface {
	AddChain(ctx context.Context, fn func(add store.AddFunc) error) error
}

// Users persists the event's user.
type Users interface {
	Upsert(ctx context.Context, u store.User, lastActivity time.Time) error
}

// ChainBuilder expands scenarios into chained action rows.
type ChainBuilder struct {
	scenarios Scenarios
	actions   Inserter
	users     Users
	perms     permission.Checker
	clock     timeutil.Clock
	log       *slog.Logger

	noPermsOnce sync.Once
}

// NewChainBuilder creates a ChainBuilder. perms and users may be nil.
func NewChainBuilder(scenarios Scenarios, actions Inserter, users Users, perms permission.Checker, clock timeutil.Clock) *ChainBuilder {
	return &ChainBuilder{
		scenarios: scenarios,
		actions:   actions,
		users:     users,
		perms:     perms,
		clock:     clock,
		log:       logging.WithComponent("chain"),
	}
}

// Build upserts the event's user and enqueues the actions of scenario name
// in one transaction. It returns the inserted ids in insertion order.
// Malformed sub-trees are logged and skipped; storage errors roll the whole
// build back.
func (b *ChainBuilder) Build(ctx context.Context, e event.Event, name string) ([]int64, error) {
	ctx = logging.ContextWithScenario(ctx, name)
	b.upsertUser(ctx, e)

	var ids []int64
	err := b.actions.AddChain(ctx, func(add store.AddFunc) error {
		ids = ids[:0]
		_, err := b.expand(ctx, add, e, name, nil, 0, &ids)
		if err != nil && !isMalformed(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (b *ChainBuilder) upsertUser(ctx context.Context, e event.Event) {
	if b.users == nil {
		return
	}
	m := flat.Map(e)
	id := e.UserID()
	if id <= 0 {
		return
	}
	u := store.User{
		UserID:    id,
		Username:  m.String(event.KeyUsername),
		FirstName: m.String(event.KeyFirstName),
		LastName:  m.String(event.KeyLastName),
		IsBot:     m.Bool(event.KeyIsBot),
	}
	last := b.clock.Now()
	if s := m.String(event.KeyEventDate); s != "" {
		if t, err := timeutil.ParseISO(s, b.clock.Location()); err == nil {
			last = t
		}
	}
	if err := b.users.Upsert(ctx, u, last); err != nil {
		logging.WithContext(ctx).Warn("Failed to upsert user", "user_id", id, "error", err)
	}
}

// expand enqueues scenario name after prev and returns the new predecessor.
func (b *ChainBuilder) expand(ctx context.Context, add store.AddFunc, e event.Event, name string, prev *int64, depth int, ids *[]int64) (*int64, error) {
	log := logging.WithContext(ctx).With("scenario", name)
	if depth > MaxDepth {
		log.Error("Scenario nesting too deep", "depth", depth)
		return prev, fmt.Errorf("%w: nesting deeper than %d at %s", ErrMalformedScenario, MaxDepth, name)
	}
	sc, err := b.scenarios.Get(name)
	if err != nil {
		log.Error("Scenario not found", "error", err)
		return prev, err
	}

	for i, raw := range sc.Actions {
		typ := CanonicalType(raw.String("type"))
		if typ == TypeScenario {
			prev, err = b.expandNested(ctx, add, e, raw, prev, depth, ids)
			if err != nil && !isMalformed(err) {
				return prev, err
			}
			continue
		}

		row, err := b.row(ctx, e, typ, raw, prev)
		if err != nil {
			log.Error("Skipping malformed action", "index", i, "type", typ, "error", err)
			continue
		}
		id, err := add(ctx, row)
		if err != nil {
			return prev, fmt.Errorf("enqueue %s action %d of %s: %w", typ, i, name, err)
		}
		logging.WithContext(logging.ContextWithActionID(ctx, id)).Debug("Action enqueued",
			"type", typ, "status", row.Status, "prev_action_id", prev)
		*ids = append(*ids, id)
		prev = &id
	}
	return prev, nil
}

// expandNested handles type: scenario. A single value chains after prev and
// becomes the new predecessor; each entry of a list chains after prev and the
// predecessor is left unchanged.
func (b *ChainBuilder) expandNested(ctx context.Context, add store.AddFunc, e event.Event, raw flat.Map, prev *int64, depth int, ids *[]int64) (*int64, error) {
	value := raw["value"]
	if list, ok := flat.AsList(value); ok {
		names := flat.AsStrings(list)
		if len(names) == 0 {
			logging.WithContext(ctx).Error("Scenario action with empty value list")
			return prev, ErrMalformedScenario
		}
		for _, n := range names {
			if _, err := b.expand(ctx, add, e, n, prev, depth+1, ids); err != nil && !isMalformed(err) {
				return prev, err
			}
		}
		return prev, nil
	}

	n, _ := flat.AsString(value)
	if n == "" {
		logging.WithContext(ctx).Error("Scenario action without value")
		return prev, ErrMalformedScenario
	}
	last, err := b.expand(ctx, add, e, n, prev, depth+1, ids)
	if err != nil {
		return prev, err
	}
	return last, nil
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedScenario) || errors.Is(err, scenario.ErrUnknownScenario)
}

func (b *ChainBuilder) row(ctx context.Context, e event.Event, typ string, raw flat.Map, prev *int64) (*store.Action, error) {
	if !slices.Contains(WorkerTypes, typ) {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrMalformedScenario, typ)
	}
	unlock, isChain, err := ParseChain(raw["chain"])
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	var drop []string
	if raw.Has("chain_drop") {
		if drop, _, err = ParseChain(raw["chain_drop"]); err != nil {
			return nil, fmt.Errorf("chain_drop: %w", err)
		}
	}

	data := raw.Clone()
	data["type"] = typ
	if denied := b.denied(ctx, e, raw); denied {
		data[KeyIsFailed] = true
		data[KeyFailReason] = FailAccessDenied
	}

	status := store.StatusPending
	if flat.Truthy(data[KeyIsFailed]) {
		status = store.StatusFailed
	}
	if isChain {
		if prev != nil {
			status = store.StatusHold
		} else {
			logging.WithContext(ctx).Warn("Chained action has no predecessor", "type", typ)
		}
	}

	return &store.Action{
		ActionType:      typ,
		EventData:       map[string]any(e),
		ActionData:      data,
		Status:          status,
		PrevActionID:    prev,
		UnlockStatus:    unlock,
		ChainDropStatus: drop,
	}, nil
}

// ParseChain interprets a chain or chain_drop value. true and "any" mean
// every terminal status; absent means ["completed"] with isChain false.
func ParseChain(v any) (statuses []string, isChain bool, err error) {
	switch x := v.(type) {
	case nil:
		return []string{string(store.StatusCompleted)}, false, nil
	case bool:
		if !x {
			return []string{string(store.StatusCompleted)}, false, nil
		}
		return append([]string(nil), anyStatus...), true, nil
	case string:
		if x == "any" || x == "true" {
			return append([]string(nil), anyStatus...), true, nil
		}
		if !store.Status(x).Valid() {
			return nil, false, fmt.Errorf("%w: unknown status %q", ErrMalformedScenario, x)
		}
		return []string{x}, true, nil
	}
	list, ok := flat.AsList(v)
	if !ok {
		return nil, false, fmt.Errorf("%w: expected bool, string or list, got %T", ErrMalformedScenario, v)
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !store.Status(s).Valid() {
			return nil, false, fmt.Errorf("%w: invalid status %v", ErrMalformedScenario, item)
		}
		statuses = append(statuses, s)
	}
	return statuses, true, nil
}

// denied evaluates required_role, required_permission and group_admin. Each
// accepts a scalar or a list; a list passes when any entry passes.
func (b *ChainBuilder) denied(ctx context.Context, e event.Event, raw flat.Map) bool {
	roles := raw.Strings("required_role")
	perms := raw.Strings("required_permission")
	adminOf := adminChats(raw["group_admin"], e.ChatID())
	if len(roles) == 0 && len(perms) == 0 && len(adminOf) == 0 {
		return false
	}
	if b.perms == nil {
		b.noPermsOnce.Do(func() {
			b.log.Warn("Permission checks requested but no permission capability configured, skipping")
		})
		return false
	}

	log := logging.WithContext(ctx)
	userID := e.UserID()
	check := func(kind string, ok bool, err error) bool {
		if err != nil {
			log.Warn("Permission check failed", "check", kind, "user_id", userID, "error", err)
			return false
		}
		return ok
	}

	if len(roles) > 0 {
		passed := false
		for _, r := range roles {
			ok, err := b.perms.HasRole(ctx, userID, r)
			if check("role", ok, err) {
				passed = true
				break
			}
		}
		if !passed {
			return true
		}
	}
	if len(perms) > 0 {
		passed := false
		for _, p := range perms {
			ok, err := b.perms.HasPermission(ctx, userID, p)
			if check("permission", ok, err) {
				passed = true
				break
			}
		}
		if !passed {
			return true
		}
	}
	if len(adminOf) > 0 {
		passed := false
		for _, chat := range adminOf {
			ok, err := b.perms.IsGroupAdmin(ctx, chat, userID)
			if check("group_admin", ok, err) {
				passed = true
				break
			}
		}
		if !passed {
			return true
		}
	}
	return false
}

// adminChats reads group_admin: true means the event's chat, ids or lists
// of ids name the chats explicitly.
func adminChats(v any, current int64) []int64 {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return []int64{current}
		}
		return nil
	case string:
		if flat.Truthy(x) {
			return []int64{current}
		}
	}
	var out []int64
	for _, s := range flat.AsStrings(v) {
		if id, ok := telegram.ParseEntityID(s); ok && id != 0 {
			out = append(out, id)
		}
	}
	return out
}
