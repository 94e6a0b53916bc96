// Package scenario loads the immutable scenario definitions and the trigger
// table of a preset.
package scenario

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
)

// ErrUnknownScenario is returned when a name matches neither a fully
// qualified name nor a short key.
var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is a named list of actions.
type Scenario struct {
	// Name is the fully qualified name: relative file path with dots, then the key.
	Name    string
	Key     string
	Actions []flat.Map
}

// Store holds every scenario of a preset.
type Store struct {
	byName map[string]*Scenario
	byKey  map[string]*Scenario
}

// NewStore builds a store from already parsed scenarios. Short key
// collisions keep the first scenario.
func NewStore(scenarios ...*Scenario) *Store {
	s := &Store{
		byName: make(map[string]*Scenario, len(scenarios)),
		byKey:  make(map[string]*Scenario, len(scenarios)),
	}
	log := logging.WithComponent("scenario")
	for _, sc := range scenarios {
		if _, dup := s.byName[sc.Name]; dup {
			log.Warn("Duplicate scenario name, keeping first", "name", sc.Name)
			continue
		}
		s.byName[sc.Name] = sc
		if prev, dup := s.byKey[sc.Key]; dup {
			log.Warn("Scenario short key collision, keeping first",
				"key", sc.Key, "kept", prev.Name, "ignored", sc.Name)
			continue
		}
		s.byKey[sc.Key] = sc
	}
	return s
}

// LoadStore reads every *.yaml / *.yml file below dir. A missing directory
// yields an empty store.
func LoadStore(dir string) (*Store, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		logging.WithComponent("scenario").Warn("Scenarios directory not found", "dir", dir)
		return NewStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk scenarios: %w", err)
	}
	sort.Strings(files)

	var all []*Scenario
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		data, err := config.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseFile(prefixOf(rel), data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		all = append(all, parsed...)
	}

	s := NewStore(all...)
	logging.WithComponent("scenario").Info("Scenarios loaded", "files", len(files), "scenarios", len(s.byName))
	return s, nil
}

// prefixOf turns "promo/claims.yaml" into "promo.claims".
func prefixOf(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// ParseFile parses one scenario file. The document maps scenario keys to
// either {actions: [...]} or a bare action list. Keys are sorted. Malformed
// scenarios and actions are logged and skipped; only unparseable YAML fails.
func ParseFile(prefix string, data []byte) ([]*Scenario, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log := logging.WithComponent("scenario")
	out := make([]*Scenario, 0, len(keys))
	for _, key := range keys {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		actions, err := parseActions(name, doc[key])
		if err != nil {
			log.Error("Skipping malformed scenario", "scenario", name, "error", err)
			continue
		}
		out = append(out, &Scenario{Name: name, Key: key, Actions: actions})
	}
	return out, nil
}

func parseActions(name string, v any) ([]flat.Map, error) {
	if m, ok := flat.AsMap(v); ok {
		v = m["actions"]
	}
	if v == nil {
		return nil, nil
	}
	list, ok := flat.AsList(v)
	if !ok {
		return nil, fmt.Errorf("actions must be a list, got %T", v)
	}
	log := logging.WithComponent("scenario")
	out := make([]flat.Map, 0, len(list))
	for i, item := range list {
		m, ok := flat.AsMap(item)
		if !ok {
			log.Error("Skipping malformed action", "scenario", name, "index", i, "error", "action must be a mapping")
			continue
		}
		if m.String("type") == "" {
			log.Error("Skipping malformed action", "scenario", name, "index", i, "error", "action has no type")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Get looks a scenario up by fully qualified name, then by short key.
func (s *Store) Get(name string) (*Scenario, error) {
	if sc, ok := s.byName[name]; ok {
		return sc, nil
	}
	if sc, ok := s.byKey[name]; ok {
		return sc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
}

// Names returns the sorted fully qualified names.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of scenarios.
func (s *Store) Len() int { return len(s.byName) }
