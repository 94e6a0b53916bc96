package scenario

import (
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/flat"
)

// Button is an inline keyboard button as written in a scenario.
type Button struct {
	Text         string
	CallbackData string
	URL          string
	Scenario     string
}

// ParseInline reads an inline keyboard. Rows are lists; a scalar or mapping
// at row level is a single-button row.
func ParseInline(v any) [][]Button {
	rows, ok := flat.AsList(v)
	if !ok {
		return nil
	}
	var out [][]Button
	for _, row := range rows {
		items, ok := flat.AsList(row)
		if !ok {
			items = []any{row}
		}
		var buttons []Button
		for _, item := range items {
			if b, ok := parseButton(item); ok {
				buttons = append(buttons, b)
			}
		}
		if len(buttons) > 0 {
			out = append(out, buttons)
		}
	}
	return out
}

func parseButton(v any) (Button, bool) {
	if m, ok := flat.AsMap(v); ok {
		b := Button{
			Text:         m.String("text"),
			CallbackData: m.String("callback_data"),
			URL:          m.String("url"),
			Scenario:     m.String("scenario"),
		}
		return b, b.Text != ""
	}
	s, ok := flat.AsString(v)
	return Button{Text: s}, ok && s != ""
}

// ParseReply reads a reply keyboard. present is false when v is absent; an
// empty keyboard asks to remove the current one.
func ParseReply(v any) (rows [][]string, present bool) {
	if v == nil {
		return nil, false
	}
	list, ok := flat.AsList(v)
	if !ok {
		if s, ok := flat.AsString(v); ok && s != "" {
			return [][]string{{s}}, true
		}
		return nil, true
	}
	for _, row := range list {
		texts := flat.AsStrings(row)
		if len(texts) > 0 {
			rows = append(rows, texts)
		}
	}
	return rows, true
}

// ButtonTexts returns the texts of every inline button that relies on a
// generated callback, in scenario name order.
func (s *Store) ButtonTexts() []string {
	var out []string
	for _, name := range s.Names() {
		for _, a := range s.byName[name].Actions {
			for _, row := range ParseInline(a["inline"]) {
				for _, b := range row {
					if b.CallbackData == "" && b.URL == "" && b.Scenario == "" {
						out = append(out, b.Text)
					}
				}
			}
		}
	}
	return out
}

// CollectButtonTexts returns every button text known at startup: scenario
// inline buttons followed by callback trigger keys.
func CollectButtonTexts(s *Store, t *Triggers) []string {
	var out []string
	if s != nil {
		out = append(out, s.ButtonTexts()...)
	}
	if t != nil {
		out = append(out, t.Keys(event.SourceCallback, MatchExact)...)
		out = append(out, t.Keys(event.SourceCallback, MatchContains)...)
	}
	return out
}
