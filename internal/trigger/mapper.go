package trigger

import (
	"strconv"
	"sync"
)

const emptyCallback = "btn"

// ButtonMapper assigns each button text a unique callback payload and maps
// payloads back to the text. Colliding payloads get _2, _3... suffixes.
type ButtonMapper struct {
	mu         sync.RWMutex
	byText     map[string]string
	byCallback map[string]string
}

// NewButtonMapper registers texts in order.
func NewButtonMapper(texts []string) *ButtonMapper {
	m := &ButtonMapper{
		byText:     make(map[string]string),
		byCallback: make(map[string]string),
	}
	for _, t := range texts {
		m.Callback(t)
	}
	return m
}

// Callback returns the payload for text, registering it if needed.
func (m *ButtonMapper) Callback(text string) string {
	m.mu.RLock()
	cb, ok := m.byText[text]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.byText[text]; ok {
		return cb
	}
	base := Normalize(text)
	if base == "" {
		base = emptyCallback
	}
	cb = base
	for n := 2; ; n++ {
		if _, taken := m.byCallback[cb]; !taken {
			break
		}
		suffix := "_" + strconv.Itoa(n)
		cb = clamp(base, MaxCallbackLen-len(suffix)) + suffix
	}
	m.byText[text] = cb
	m.byCallback[cb] = text
	return cb
}

// Text returns the button text registered for payload.
func (m *ButtonMapper) Text(callback string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byCallback[callback]
	return t, ok
}

// Len returns the number of registered buttons.
func (m *ButtonMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byText)
}
