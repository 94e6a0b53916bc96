// Package trigger maps inbound events to scenario names using the preset's
// trigger table.
package trigger

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/scenario"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
)

// StateReader looks up the current state of a user.
type StateReader interface {
	Get(ctx context.Context, userID int64) (*store.UserState, error)
}

// Resolver matches events against the trigger table.
type Resolver struct {
	triggers *scenario.Triggers
	states   StateReader
	buttons  *ButtonMapper
	regexps  map[string]*regexp.Regexp
}

// NewResolver compiles the regex rules of t. Invalid patterns are logged and
// never match. states and buttons may be nil.
func NewResolver(t *scenario.Triggers, states StateReader, buttons *ButtonMapper) *Resolver {
	if buttons == nil {
		buttons = NewButtonMapper(nil)
	}
	r := &Resolver{
		triggers: t,
		states:   states,
		buttons:  buttons,
		regexps:  make(map[string]*regexp.Regexp),
	}
	log := logging.WithComponent("trigger")
	for _, rule := range t.Rules(event.SourceText, scenario.MatchRegex) {
		re, err := regexp.Compile("(?i)" + rule.Key)
		if err != nil {
			log.Error("Invalid trigger regex, skipping", "pattern", rule.Key, "error", err)
			continue
		}
		r.regexps[rule.Key] = re
	}
	return r
}

// Buttons returns the mapper used for callback payloads.
func (r *Resolver) Buttons() *ButtonMapper { return r.buttons }

// Resolve returns the ordered, de-duplicated scenario names for e.
func (r *Resolver) Resolve(ctx context.Context, e event.Event) []string {
	switch e.SourceType() {
	case event.SourceText:
		return r.resolveText(ctx, e)
	case event.SourceCallback:
		data := flat.Map(e).String(event.KeyCallbackData)
		if strings.HasPrefix(data, ":") {
			return []string{data[1:]}
		}
		return r.resolveCallback(e, data)
	case event.SourceNewMember:
		return r.resolveNewMember(e)
	}
	return nil
}

func (r *Resolver) resolveText(ctx context.Context, e event.Event) []string {
	text := e.Text()
	lower := strings.ToLower(text)
	var out []string

	for _, cat := range scenario.Categories(event.SourceText) {
		var winners []scenario.Binding
		switch cat {
		case scenario.MatchState:
			if b, ok := r.matchState(ctx, e); ok {
				return appendUnique(out, b.Scenario)
			}
			continue
		case scenario.MatchExact:
			winners = r.collect(e, cat, func(key string) bool { return strings.EqualFold(key, text) })
		case scenario.MatchRegex:
			winners = r.collect(e, cat, func(key string) bool {
				re, ok := r.regexps[key]
				return ok && re.MatchString(text)
			})
		case scenario.MatchStartsWith:
			winners = r.collect(e, cat, func(key string) bool { return strings.HasPrefix(lower, strings.ToLower(key)) })
		case scenario.MatchContains:
			winners = r.collect(e, cat, func(key string) bool { return strings.Contains(lower, strings.ToLower(key)) })
		case scenario.MatchAny:
			winners = r.collect(e, cat, func(string) bool { return true })
		}
		var stop bool
		out, stop = r.take(out, winners)
		if stop {
			break
		}
	}
	return out
}

func (r *Resolver) matchState(ctx context.Context, e event.Event) (scenario.Binding, bool) {
	rules := r.triggers.Rules(event.SourceText, scenario.MatchState)
	if len(rules) == 0 || r.states == nil {
		return scenario.Binding{}, false
	}
	st, err := r.states.Get(ctx, e.UserID())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.WithContext(ctx).Warn("User state lookup failed", "user_id", e.UserID(), "error", err)
		}
		return scenario.Binding{}, false
	}
	winners := r.collect(e, scenario.MatchState, func(key string) bool { return key == st.StateType })
	if len(winners) == 0 {
		return scenario.Binding{}, false
	}
	return winners[0], true
}

func (r *Resolver) resolveCallback(e event.Event, data string) []string {
	text, ok := r.buttons.Text(data)
	if !ok {
		text = data
	}
	normalized := Normalize(text)
	lower := strings.ToLower(text)

	var out []string
	for _, cat := range scenario.Categories(event.SourceCallback) {
		var winners []scenario.Binding
		switch cat {
		case scenario.MatchExact:
			winners = r.collect(e, cat, func(key string) bool {
				if strings.EqualFold(key, text) || key == data {
					return true
				}
				n := Normalize(key)
				return n != "" && n == normalized
			})
		case scenario.MatchContains:
			winners = r.collect(e, cat, func(key string) bool {
				if strings.Contains(lower, strings.ToLower(key)) {
					return true
				}
				n := Normalize(key)
				return n != "" && strings.Contains(normalized, n)
			})
		}
		var stop bool
		out, stop = r.take(out, winners)
		if stop {
			break
		}
	}
	return out
}

func (r *Resolver) resolveNewMember(e event.Event) []string {
	m := flat.Map(e)
	title := m.String(event.KeyChatTitle)
	link := m.String(event.KeyInviteLink)
	creator := trimAt(m.String(event.KeyInviteLinkCreator))
	initiator := trimAt(m.String(event.KeyInitiatorUsername))

	var out []string
	for _, cat := range scenario.Categories(event.SourceNewMember) {
		var winners []scenario.Binding
		switch cat {
		case scenario.MatchGroup:
			winners = r.collect(e, cat, func(key string) bool { return title != "" && strings.EqualFold(key, title) })
		case scenario.MatchLink:
			winners = r.collect(e, cat, func(key string) bool { return link != "" && key != "" && strings.Contains(link, key) })
		case scenario.MatchCreator:
			winners = r.collect(e, cat, func(key string) bool { return creator != "" && strings.EqualFold(trimAt(key), creator) })
		case scenario.MatchInitiator:
			winners = r.collect(e, cat, func(key string) bool { return initiator != "" && strings.EqualFold(trimAt(key), initiator) })
		case scenario.MatchDefault:
			winners = r.collect(e, cat, func(string) bool { return true })
		}
		var stop bool
		out, stop = r.take(out, winners)
		if stop {
			break
		}
	}
	return out
}

// collect returns the gated bindings of every rule in category whose key matches.
func (r *Resolver) collect(e event.Event, category string, match func(key string) bool) []scenario.Binding {
	var winners []scenario.Binding
	for _, rule := range r.triggers.Rules(e.SourceType(), category) {
		if !match(rule.Key) {
			continue
		}
		for _, b := range rule.Bindings {
			if allowed(e, b) {
				winners = append(winners, b)
			}
		}
	}
	return winners
}

// take appends the winners and reports whether the category walk stops.
func (r *Resolver) take(out []string, winners []scenario.Binding) ([]string, bool) {
	if len(winners) == 0 {
		return out, false
	}
	stop := false
	for _, b := range winners {
		out = appendUnique(out, b.Scenario)
		if !b.Continue {
			stop = true
		}
	}
	return out, stop
}

// allowed applies forward, bot and chat scope gating.
func allowed(e event.Event, b scenario.Binding) bool {
	m := flat.Map(e)
	if m.Bool(event.KeyIsForward) && !b.ForwardEnabled {
		return false
	}
	if m.Bool(event.KeyIsBot) && !b.BotEnabled {
		return false
	}
	chatType := m.String(event.KeyChatType)
	for _, scope := range b.FromChat {
		switch scope {
		case scenario.ChatScopeAll:
			return true
		case scenario.ChatScopePrivate:
			if chatType == event.ChatPrivate {
				return true
			}
		case scenario.ChatScopeGroup:
			if chatType == event.ChatGroup || chatType == event.ChatSupergroup {
				return true
			}
		default:
			if telegram.CompareEntityIDs(scope, e[event.KeyChatID]) {
				return true
			}
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, item := range list {
		if item == s {
			return list
		}
	}
	return append(list, s)
}

func trimAt(s string) string { return strings.TrimPrefix(strings.TrimSpace(s), "@") }
