package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/alekspetrov/scenarist/internal/logging"
)

// MediaGroupProcessor buffers messages that share a media_group_id and emits
// them as one merged event after the timeout elapses from the first arrival.
type MediaGroupProcessor struct {
	timeout time.Duration
	emit    func(Event)

	mu      sync.Mutex
	groups  map[string]*pendingGroup
	stopped bool
}

type pendingGroup struct {
	events []Event
	timer  *time.Timer
}

// NewMediaGroupProcessor creates a processor that hands merged events to emit.
func NewMediaGroupProcessor(timeout time.Duration, emit func(Event)) *MediaGroupProcessor {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &MediaGroupProcessor{
		timeout: timeout,
		emit:    emit,
		groups:  make(map[string]*pendingGroup),
	}
}

// Add buffers e when it belongs to a media group and reports whether it did.
// Events without a media_group_id are left to the caller.
func (p *MediaGroupProcessor) Add(e Event) bool {
	id := e.MediaGroupID()
	if id == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return true
	}

	g, ok := p.groups[id]
	if !ok {
		g = &pendingGroup{}
		g.timer = time.AfterFunc(p.timeout, func() { p.flush(id) })
		p.groups[id] = g
	}
	g.events = append(g.events, e)
	return true
}

// Pending returns the number of groups waiting for their timeout.
func (p *MediaGroupProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups)
}

// Stop cancels every pending timer and flushes the buffered groups.
func (p *MediaGroupProcessor) Stop() {
	p.mu.Lock()
	p.stopped = true
	ids := make([]string, 0, len(p.groups))
	for id, g := range p.groups {
		g.timer.Stop()
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.flush(id)
	}
}

func (p *MediaGroupProcessor) flush(id string) {
	p.mu.Lock()
	g, ok := p.groups[id]
	delete(p.groups, id)
	p.mu.Unlock()
	if !ok {
		return
	}

	merged, err := MergeGroup(g.events)
	if err != nil {
		logging.WithComponent("dispatcher").Warn("Media group dropped", "media_group_id", id, "error", err)
		return
	}
	p.emit(merged)
}

// MergeGroup merges the members of a media group into one event. Attachments
// are concatenated in arrival order and the text comes from the first member
// that has one. Members must agree on chat_id and user_id.
func MergeGroup(events []Event) (Event, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("empty media group")
	}
	first := events[0]
	chatID, userID := first.ChatID(), first.UserID()

	merged := first.Clone()
	var attachments []any
	textSet := false
	for i, e := range events {
		if e.ChatID() != chatID || e.UserID() != userID {
			return nil, fmt.Errorf("member %d has chat_id=%d user_id=%d, expected chat_id=%d user_id=%d",
				i, e.ChatID(), e.UserID(), chatID, userID)
		}
		for _, a := range e.Attachments() {
			attachments = append(attachments, a)
		}
		if !textSet && e.Text() != "" {
			merged[KeyEventText] = e[KeyEventText]
			merged[KeyEventTextMarkdown] = e[KeyEventTextMarkdown]
			merged[KeyEventTextHTML] = e[KeyEventTextHTML]
			textSet = true
		}
	}
	merged[KeyAttachments] = attachments
	return merged, nil
}
