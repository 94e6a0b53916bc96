// Package timeutil holds the local-time clock and the compact duration grammar
// used by scenario actions ("1d12h", "30m", "2w").
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ISOLayout is the ISO-8601 form used for event_date and JSON-embedded datetimes.
const ISOLayout = "2006-01-02T15:04:05.000000-07:00"

// DBLayout is the naive local-time layout stored in timestamp columns.
// Equal-length values compare lexicographically in time order.
const DBLayout = "2006-01-02 15:04:05.000000"

// Clock provides the current time in the configured local timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// SystemClock reads the wall clock and converts it into a fixed location.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock returns a clock for the named IANA zone. An empty name or
// "Local" selects the process local zone.
func NewSystemClock(zone string) (*SystemClock, error) {
	if zone == "" || zone == "Local" {
		return &SystemClock{loc: time.Local}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &SystemClock{loc: loc}, nil
}

func (c *SystemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *SystemClock) Location() *time.Location { return c.loc }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Location()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var unitSeconds = map[byte]int64{
	'w': 7 * 24 * 3600,
	'd': 24 * 3600,
	'h': 3600,
	'm': 60,
	's': 1,
}

// ParseDuration parses the grammar (<n>(w|d|h|m|s))+ and returns whole seconds.
func ParseDuration(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total int64
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			continue
		}
		mult, ok := unitSeconds[c]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, string(c))
		}
		if i == start {
			return 0, fmt.Errorf("invalid duration %q: missing number before %q", s, string(c))
		}
		n, err := strconv.ParseInt(s[start:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += n * mult
		start = i + 1
	}
	if start != len(s) {
		return 0, fmt.Errorf("invalid duration %q: trailing number without unit", s)
	}
	return total, nil
}

// FormatISO renders t in the clock's location as ISO-8601.
func FormatISO(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(ISOLayout)
}

// ParseISO accepts ISO-8601 timestamps with or without offset and fractional
// seconds. Naive values are interpreted in loc.
func ParseISO(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, ISOLayout, "2006-01-02T15:04:05-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", DBLayout, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatDB renders t for a timestamp column.
func FormatDB(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DBLayout)
}

// ParseDB parses a timestamp column value written by FormatDB.
func ParseDB(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DBLayout, s, loc)
	if err == nil {
		return t, nil
	}
	return ParseISO(s, loc)
}
