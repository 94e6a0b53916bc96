package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// User action keys.
const (
	KeyUserState     = "user_state"
	KeyStateData     = "state_data"
	KeyExpireSeconds = "expire_seconds"
)

// StateWriter mutates user states.
type StateWriter interface {
	Set(ctx context.Context, userID int64, stateType string, data map[string]any, expiredAt time.Time) error
	Clear(ctx context.Context, userID int64) error
}

// User handles user actions: it sets or clears the conversational state of
// the event's user.
type User struct {
	states        StateWriter
	clock         timeutil.Clock
	defaultExpire time.Duration
	log           *slog.Logger
}

// NewUser creates the user handler. defaultExpire applies when the action has
// no expire.
func NewUser(states StateWriter, clock timeutil.Clock, defaultExpire time.Duration) *User {
	return &User{
		states:        states,
		clock:         clock,
		defaultExpire: defaultExpire,
		log:           logging.WithComponent("worker.user"),
	}
}

// Handle applies the state change.
func (u *User) Handle(ctx context.Context, p *action.Parsed) Result {
	userID, ok := p.Data.Int64(event.KeyUserID)
	if !ok || userID == 0 {
		return Failed(errors.New("user_id is required"))
	}
	raw, ok := p.Data[KeyUserState]
	if !ok {
		return Failed(errors.New("user_state is required"))
	}

	state := p.Data.String(KeyUserState)
	if raw == nil || state == "" {
		if err := u.states.Clear(ctx, userID); err != nil {
			return Failed(err)
		}
		logging.FromContext(ctx, u.log).Debug("User state cleared", slog.Int64("user_id", userID))
		return Completed(map[string]any{KeyUserState: ""})
	}

	ttl := u.defaultExpire
	if secs, ok := p.Data.Int64(KeyExpireSeconds); ok && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	now := u.clock.Now()
	var expiredAt time.Time
	if ttl > 0 {
		expiredAt = now.Add(ttl)
	}

	if err := u.states.Set(ctx, userID, state, p.Data.Map(KeyStateData), expiredAt); err != nil {
		return Failed(err)
	}
	resp := map[string]any{KeyUserState: state}
	if !expiredAt.IsZero() {
		resp["expired_at"] = timeutil.FormatISO(expiredAt, u.clock.Location())
	}
	logging.FromContext(ctx, u.log).Debug("User state set",
		slog.Int64("user_id", userID), slog.String("state", state), slog.Duration("ttl", ttl))
	return Completed(resp)
}
