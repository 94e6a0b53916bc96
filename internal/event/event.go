// Package event defines the normalized inbound event shared by the Bot API
// and MTProto parsers, plus the in-memory dedup and media-group buffers.
package event

import (
	"strconv"

	"github.com/alekspetrov/scenarist/internal/flat"
)

// Source types.
const (
	SourceText      = "text"
	SourceCallback  = "callback"
	SourceNewMember = "new_member"
)

// Chat types.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
	ChatUnknown    = "unknown"
)

// Stable event keys.
const (
	KeySourceType        = "source_type"
	KeyUserID            = "user_id"
	KeyUsername          = "username"
	KeyFirstName         = "first_name"
	KeyLastName          = "last_name"
	KeyIsBot             = "is_bot"
	KeyChatID            = "chat_id"
	KeyChatType          = "chat_type"
	KeyChatTitle         = "chat_title"
	KeyMessageID         = "message_id"
	KeyCallbackID        = "callback_id"
	KeyCallbackData      = "callback_data"
	KeyEventText         = "event_text"
	KeyEventTextMarkdown = "event_text_markdown"
	KeyEventTextHTML     = "event_text_html"
	KeyEventDate         = "event_date"
	KeyIsReply           = "is_reply"
	KeyIsForward         = "is_forward"
	KeyMediaGroupID      = "media_group_id"
	KeyAttachments       = "attachments"
	KeyEntityID          = "entity_id"
	KeyEntityType        = "entity_type"
	KeyCorrelationID     = "correlation_id"

	KeyJoinedUserIDs     = "joined_user_ids"
	KeyJoinedUsernames   = "joined_usernames"
	KeyJoinedFirstNames  = "joined_first_names"
	KeyJoinedLastNames   = "joined_last_names"
	KeyJoinedIsBot       = "joined_is_bot"
	KeyInviteLink        = "invite_link"
	KeyInviteLinkName    = "invite_link_name"
	KeyInviteLinkCreator = "invite_link_creator_username"
	KeyInitiatorUserID   = "initiator_user_id"
	KeyInitiatorUsername = "initiator_username"
)

// Reply and forward sub-blocks repeat the message keys under these prefixes.
const (
	ReplyPrefix   = "reply_"
	ForwardPrefix = "forward_"
)

// Event is a flat map describing one inbound Telegram update.
type Event flat.Map

// Flat returns the event as a flat.Map.
func (e Event) Flat() flat.Map { return flat.Map(e) }

// SourceType returns text, callback or new_member.
func (e Event) SourceType() string { return flat.Map(e).String(KeySourceType) }

// ChatID returns the Bot API chat id.
func (e Event) ChatID() int64 {
	id, _ := flat.Map(e).Int64(KeyChatID)
	return id
}

// UserID returns the sender id, or 0.
func (e Event) UserID() int64 {
	id, _ := flat.Map(e).Int64(KeyUserID)
	return id
}

// MessageID returns the message id, or 0.
func (e Event) MessageID() int64 {
	id, _ := flat.Map(e).Int64(KeyMessageID)
	return id
}

// Text returns event_text.
func (e Event) Text() string { return flat.Map(e).String(KeyEventText) }

// MediaGroupID returns media_group_id, or "".
func (e Event) MediaGroupID() string { return flat.Map(e).String(KeyMediaGroupID) }

// Attachments returns the attachment list.
func (e Event) Attachments() []map[string]any {
	list, ok := flat.AsList(e[KeyAttachments])
	if !ok {
		if typed, ok := e[KeyAttachments].([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := flat.AsMap(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// DedupKey returns chat_id:message_id for messages and chat_id:callback_id
// for callbacks. Other events have no key.
func (e Event) DedupKey() string {
	chat := strconv.FormatInt(e.ChatID(), 10)
	switch e.SourceType() {
	case SourceText:
		if id := e.MessageID(); id != 0 {
			return chat + ":" + strconv.FormatInt(id, 10)
		}
	case SourceCallback:
		if id := flat.Map(e).String(KeyCallbackID); id != "" {
			return chat + ":" + id
		}
	}
	return ""
}

// Clone returns a shallow copy.
func (e Event) Clone() Event { return Event(flat.Map(e).Clone()) }
