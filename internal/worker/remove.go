package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
)

// KeyRemoveMessageID names the message a remove action deletes; message_id
// of the event is the fallback. A list deletes several messages.
const KeyRemoveMessageID = "remove_message_id"

var errNoMessageID = errors.New("message id is required")

// Deleter deletes chat messages.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Remove handles remove actions.
type Remove struct {
	messenger Deleter
	log       *slog.Logger
}

// NewRemove creates the remove handler.
func NewRemove(m Deleter) *Remove {
	return &Remove{messenger: m, log: logging.WithComponent("worker.remove")}
}

// Handle deletes the target messages.
func (r *Remove) Handle(ctx context.Context, p *action.Parsed) Result {
	chatID, ok := p.Data.Int64(event.KeyChatID)
	if !ok {
		return Failed(errors.New("chat_id is required"))
	}
	ids := messageIDs(p.Data)
	if len(ids) == 0 {
		return Failed(errNoMessageID)
	}

	for _, id := range ids {
		if err := r.messenger.DeleteMessage(ctx, chatID, id); err != nil {
			logging.FromContext(ctx, r.log).Warn("Failed to delete message",
				slog.Int64("chat_id", chatID), slog.Int64("message_id", id), slog.Any("error", err))
			return Failed(fmt.Errorf("delete message %d: %w", id, err))
		}
	}
	return Completed(map[string]any{"removed_message_ids": ids})
}

func messageIDs(d flat.Map) []int64 {
	v, ok := d[KeyRemoveMessageID]
	if !ok || v == nil || v == "" {
		v = d[event.KeyMessageID]
	}
	if list, ok := flat.AsList(v); ok {
		var out []int64
		for _, item := range list {
			if id, ok := flat.AsInt64(item); ok && id > 0 {
				out = append(out, id)
			}
		}
		return out
	}
	if id, ok := flat.AsInt64(v); ok && id > 0 {
		return []int64{id}
	}
	return nil
}
