// Package telegram defines the Messenger capability the workers send through,
// the request and response types it exchanges, and the identity rules shared
// by the Bot API and MTProto adapters.
package telegram

import (
	"context"
	"io"
)

// Attachment types.
const (
	AttachPhoto           = "photo"
	AttachVideo           = "video"
	AttachAnimation       = "animation"
	AttachAudio           = "audio"
	AttachVoice           = "voice"
	AttachDocument        = "document"
	AttachAnimatedSticker = "animated_sticker"
	AttachSticker         = "sticker"
)

// Attachment is an outgoing file. Exactly one of FileID, URL or Path is used,
// in that order of preference.
type Attachment struct {
	Type     string
	FileID   string
	URL      string
	Path     string
	FileName string
}

// Source returns the reference the adapter should send.
func (a Attachment) Source() string {
	switch {
	case a.FileID != "":
		return a.FileID
	case a.URL != "":
		return a.URL
	}
	return a.Path
}

// IsUpload reports whether the attachment must be uploaded from disk.
func (a Attachment) IsUpload() bool {
	return a.FileID == "" && a.URL == "" && a.Path != ""
}

// Button is one inline keyboard button.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Keyboard is the reply markup of a message. Inline wins over Reply; an
// empty non-nil Reply with RemoveReply removes the reply keyboard.
type Keyboard struct {
	Inline      [][]Button
	Reply       [][]string
	RemoveReply bool
}

// Empty reports whether the keyboard carries no markup.
func (k *Keyboard) Empty() bool {
	return k == nil || (len(k.Inline) == 0 && len(k.Reply) == 0 && !k.RemoveReply)
}

// OutgoingMessage is a plain text message.
type OutgoingMessage struct {
	ChatID    int64
	Text      string
	ParseMode string
	ReplyTo   int64
	Keyboard  *Keyboard
}

// MediaMessage is a single attachment with an optional caption.
type MediaMessage struct {
	ChatID     int64
	Attachment Attachment
	Caption    string
	ParseMode  string
	ReplyTo    int64
	Keyboard   *Keyboard
}

// MediaGroup is an album of up to ten attachments. The caption goes on the
// first item.
type MediaGroup struct {
	ChatID      int64
	Attachments []Attachment
	Caption     string
	ParseMode   string
	ReplyTo     int64
}

// EditMessage replaces the text (and inline keyboard) of a sent message.
type EditMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
	ParseMode string
	Keyboard  *Keyboard
}

// SentMessage describes a delivered message. FileID is the Telegram file id of
// the attachment it carried, if any.
type SentMessage struct {
	ChatID    int64
	MessageID int64
	FileID    string
}

// Entity is a resolved user, group or channel.
type Entity struct {
	ID        int64
	Type      string
	Title     string
	Username  string
	FirstName string
	LastName  string
}

// Messenger is the outbound Telegram capability.
type Messenger interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (*SentMessage, error)
	SendMedia(ctx context.Context, msg MediaMessage) (*SentMessage, error)
	SendMediaGroup(ctx context.Context, group MediaGroup) ([]SentMessage, error)
	EditMessage(ctx context.Context, msg EditMessage) (*SentMessage, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
	GetEntity(ctx context.Context, id int64) (*Entity, error)
}
