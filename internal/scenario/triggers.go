package scenario

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/event"
)

// Match categories.
const (
	MatchExact      = "exact"
	MatchRegex      = "regex"
	MatchStartsWith = "starts_with"
	MatchContains   = "contains"
	MatchState      = "state"
	MatchAny        = "*"

	MatchGroup     = "group"
	MatchLink      = "link"
	MatchCreator   = "creator"
	MatchInitiator = "initiator"
	MatchDefault   = "default"
)

// from_chat keywords.
const (
	ChatScopePrivate = "private"
	ChatScopeGroup   = "group"
	ChatScopeAll     = "all"
)

var categories = map[string][]string{
	event.SourceText:      {MatchExact, MatchState, MatchRegex, MatchStartsWith, MatchContains, MatchAny},
	event.SourceCallback:  {MatchExact, MatchContains},
	event.SourceNewMember: {MatchGroup, MatchLink, MatchCreator, MatchInitiator, MatchDefault},
}

// Binding is one scenario a trigger rule points at.
type Binding struct {
	Scenario       string
	FromChat       []string
	Continue       bool
	ForwardEnabled bool
	BotEnabled     bool
}

// Rule is a keyed trigger entry. Rules keep their YAML order.
type Rule struct {
	Key      string
	Bindings []Binding
}

// Triggers is the trigger table: source type, then category, then rules.
type Triggers struct {
	rules map[string]map[string][]Rule
}

// Categories returns the match categories of a source type in priority order.
func Categories(sourceType string) []string {
	return categories[sourceType]
}

// Rules returns the ordered rules of a category.
func (t *Triggers) Rules(sourceType, category string) []Rule {
	if t == nil {
		return nil
	}
	return t.rules[sourceType][category]
}

// LoadTriggers reads and parses a triggers.yaml file.
func LoadTriggers(path string) (*Triggers, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ParseTriggers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTriggers parses the trigger table. An empty document is an empty table.
func ParseTriggers(data []byte) (*Triggers, error) {
	t := &Triggers{rules: make(map[string]map[string][]Rule)}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return t, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: trigger table must be a mapping", doc.Line)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		source, body := doc.Content[i].Value, doc.Content[i+1]
		known, ok := categories[source]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown source type %q", doc.Content[i].Line, source)
		}
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: %s must be a mapping", body.Line, source)
		}
		cats := make(map[string][]Rule)
		for j := 0; j+1 < len(body.Content); j += 2 {
			cat, node := body.Content[j].Value, body.Content[j+1]
			if !slices.Contains(known, cat) {
				return nil, fmt.Errorf("line %d: unknown %s category %q", body.Content[j].Line, source, cat)
			}
			if (cat == MatchAny || cat == MatchDefault) && !isRuleMapping(node) {
				bindings, err := parseBindings(node, source)
				if err != nil {
					return nil, err
				}
				cats[cat] = []Rule{{Key: cat, Bindings: bindings}}
				continue
			}
			if node.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: %s.%s must be a mapping", node.Line, source, cat)
			}
			for k := 0; k+1 < len(node.Content); k += 2 {
				bindings, err := parseBindings(node.Content[k+1], source)
				if err != nil {
					return nil, err
				}
				cats[cat] = append(cats[cat], Rule{Key: node.Content[k].Value, Bindings: bindings})
			}
		}
		t.rules[source] = cats
	}
	return t, nil
}

// isRuleMapping reports whether node maps rule keys to values, as opposed to
// being a single binding record.
func isRuleMapping(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "scenario" {
			return false
		}
	}
	return true
}

// defaultFromChat is applied when a binding has no from_chat.
func defaultFromChat(source string) []string {
	if source == event.SourceNewMember {
		return []string{ChatScopeGroup}
	}
	return []string{ChatScopePrivate}
}

type bindingYAML struct {
	Scenario       string    `yaml:"scenario"`
	FromChat       yaml.Node `yaml:"from_chat"`
	Continue       bool      `yaml:"continue"`
	ForwardEnabled bool      `yaml:"forward_enabled"`
	BotEnabled     bool      `yaml:"bot_enabled"`
}

func parseBindings(node *yaml.Node, source string) ([]Binding, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, fmt.Errorf("line %d: empty scenario name", node.Line)
		}
		return []Binding{{Scenario: node.Value, FromChat: defaultFromChat(source)}}, nil
	case yaml.MappingNode:
		b, err := parseBinding(node, source)
		if err != nil {
			return nil, err
		}
		return []Binding{b}, nil
	case yaml.SequenceNode:
		out := make([]Binding, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, Binding{Scenario: item.Value, FromChat: defaultFromChat(source)})
				continue
			}
			b, err := parseBinding(item, source)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unsupported trigger value", node.Line)
}

func parseBinding(node *yaml.Node, source string) (Binding, error) {
	var raw bindingYAML
	if err := node.Decode(&raw); err != nil {
		return Binding{}, fmt.Errorf("line %d: %w", node.Line, err)
	}
	if raw.Scenario == "" {
		return Binding{}, fmt.Errorf("line %d: binding without scenario", node.Line)
	}
	b := Binding{
		Scenario:       raw.Scenario,
		Continue:       raw.Continue,
		ForwardEnabled: raw.ForwardEnabled,
		BotEnabled:     raw.BotEnabled,
	}
	switch raw.FromChat.Kind {
	case 0:
		b.FromChat = defaultFromChat(source)
	case yaml.ScalarNode:
		b.FromChat = []string{raw.FromChat.Value}
	case yaml.SequenceNode:
		for _, item := range raw.FromChat.Content {
			b.FromChat = append(b.FromChat, item.Value)
		}
	default:
		return Binding{}, fmt.Errorf("line %d: from_chat must be a scalar or a list", raw.FromChat.Line)
	}
	return b, nil
}

// Keys returns every rule key of a category; used to seed the button mapper.
func (t *Triggers) Keys(sourceType, category string) []string {
	rules := t.Rules(sourceType, category)
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Key)
	}
	return out
}

// Len returns the total number of rules.
func (t *Triggers) Len() int {
	n := 0
	for _, cats := range t.rules {
		for _, rules := range cats {
			n += len(rules)
		}
	}
	return n
}
