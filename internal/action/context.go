package action

import (
	"time"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// blobKeys are the JSON columns removed from a flattened action.
var blobKeys = []string{"event_data", "action_data", "response_data", "prev_data", "placeholder_data"}

// timeAttrs are the duration attributes expanded into _seconds and _date.
// past reports whether the date lies before the event time.
var timeAttrs = []struct {
	name string
	past bool
}{
	{"expire", true},
	{"unexpired", true},
	{"duration", false},
	{"time_before", true},
	{"time_after", false},
}

// Context is the layered view of an action row. Flatten merges the layers in
// field order, later layers overriding earlier ones.
type Context struct {
	PrevData        map[string]any
	ActionData      map[string]any
	PlaceholderData map[string]any
	ResponseData    map[string]any
	EventData       map[string]any
	Columns         map[string]any
}

// ContextOf builds the context of a stored row.
func ContextOf(a *store.Action, loc *time.Location) Context {
	return Context{
		PrevData:        a.PrevData,
		ActionData:      a.ActionData,
		PlaceholderData: a.PlaceholderData,
		ResponseData:    a.ResponseData,
		EventData:       a.EventData,
		Columns:         a.Columns(loc),
	}
}

// Flatten merges the layers into one map and expands the time attributes.
func (c Context) Flatten(clock timeutil.Clock) flat.Map {
	out := flat.Map{}
	for _, layer := range []map[string]any{c.PrevData, c.ActionData, c.PlaceholderData, c.ResponseData, c.EventData, c.Columns} {
		out.Merge(layer)
	}
	for _, k := range blobKeys {
		delete(out, k)
	}
	expandTimes(out, clock)
	return out
}

func expandTimes(m flat.Map, clock timeutil.Clock) {
	var base time.Time
	baseSet := false
	for _, attr := range timeAttrs {
		raw, ok := m[attr.name]
		if !ok || raw == nil {
			continue
		}
		seconds, ok := durationSeconds(raw)
		if !ok {
			logging.WithComponent("action").Warn("Invalid duration attribute", "attr", attr.name, "value", raw)
			continue
		}
		m[attr.name+"_seconds"] = seconds

		dateKey := attr.name + "_date"
		if m.Has(dateKey) {
			continue
		}
		if !baseSet {
			base, baseSet = eventTime(m, clock), true
		}
		delta := time.Duration(seconds) * time.Second
		if attr.past {
			delta = -delta
		}
		m[dateKey] = timeutil.FormatISO(base.Add(delta), clock.Location())
	}
}

func durationSeconds(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		n, err := timeutil.ParseDuration(s)
		return n, err == nil
	}
	return flat.AsInt64(v)
}

// eventTime is the first parseable of event_date, created_at and timestamp,
// else now.
func eventTime(m flat.Map, clock timeutil.Clock) time.Time {
	for _, key := range []string{"event_date", "created_at", "timestamp"} {
		s := m.String(key)
		if s == "" {
			continue
		}
		if t, err := timeutil.ParseISO(s, clock.Location()); err == nil {
			return t
		}
	}
	return clock.Now()
}
