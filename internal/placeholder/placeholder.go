// Package placeholder substitutes {path} and {path|fallback} tokens in
// scenario values.
package placeholder

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
)

var tokenRe = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)(?:\|([^{}]*))?\}`)

// Values is the lookup source for tokens. Paths are tried as a flat key,
// then as a gjson path over the whole map, then as a flat key with dots
// replaced by underscores.
type Values struct {
	m map[string]any

	once sync.Once
	doc  []byte
}

// NewValues wraps m.
func NewValues(m map[string]any) *Values {
	return &Values{m: m}
}

// Lookup returns the value of path.
func (v *Values) Lookup(path string) (any, bool) {
	if val, ok := v.m[path]; ok && val != nil {
		return val, true
	}
	if strings.Contains(path, ".") {
		if res := gjson.GetBytes(v.json(), path); res.Exists() && res.Type != gjson.Null {
			return native(res), true
		}
		if val, ok := v.m[strings.ReplaceAll(path, ".", "_")]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

func (v *Values) json() []byte {
	v.once.Do(func() {
		data, err := json.Marshal(v.m)
		if err != nil {
			logging.WithComponent("placeholder").Warn("Cannot index values for path lookups", "error", err)
			data = []byte("{}")
		}
		v.doc = data
	})
	return v.doc
}

func native(res gjson.Result) any {
	switch res.Type {
	case gjson.Number:
		if n, ok := flat.AsInt64(json.Number(res.Raw)); ok {
			return n
		}
		return res.Float()
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.String:
		return res.String()
	}
	return res.Value()
}

// Resolve substitutes tokens in every string of v, recursing into maps and
// lists. Map keys are left alone. The input is not modified.
func Resolve(v any, values *Values) any {
	switch x := v.(type) {
	case string:
		return ResolveString(x, values)
	case flat.Map:
		return flat.Map(resolveMap(x, values))
	case map[string]any:
		return resolveMap(x, values)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Resolve(item, values)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ResolveString(item, values)
		}
		return out
	}
	if m, ok := flat.AsMap(v); ok {
		return resolveMap(m, values)
	}
	return v
}

func resolveMap(m map[string]any, values *Values) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = Resolve(val, values)
	}
	return out
}

// ResolveString substitutes the tokens of s. A string made of exactly one
// token yields the referenced value with its own type. Unknown tokens
// without a fallback stay verbatim.
func ResolveString(s string, values *Values) any {
	if !strings.Contains(s, "{") {
		return s
	}
	if loc := tokenRe.FindStringSubmatchIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
		path := s[loc[2]:loc[3]]
		if val, ok := values.Lookup(path); ok {
			return val
		}
		if loc[4] >= 0 {
			return s[loc[4]:loc[5]]
		}
		return s
	}
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		sub := tokenRe.FindStringSubmatch(tok)
		path, fallback := sub[1], sub[2]
		hasFallback := strings.Contains(tok, "|")
		if val, ok := values.Lookup(path); ok {
			return render(val)
		}
		if hasFallback {
			return fallback
		}
		return tok
	})
}

// HasTokens reports whether any string inside v contains a token.
func HasTokens(v any) bool {
	switch x := v.(type) {
	case string:
		return tokenRe.MatchString(x)
	case []any:
		for _, item := range x {
			if HasTokens(item) {
				return true
			}
		}
	case []string:
		for _, item := range x {
			if tokenRe.MatchString(item) {
				return true
			}
		}
	default:
		if m, ok := flat.AsMap(v); ok {
			for _, val := range m {
				if HasTokens(val) {
					return true
				}
			}
		}
	}
	return false
}

func render(v any) string {
	if s, ok := flat.AsString(v); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
