package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/filecache"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/trigger"
)

var errNothingToSend = errors.New("action has neither text nor attachments")

// FileCache resolves local attachments to cached uploads and downloads
// attachments marked for reupload.
type FileCache interface {
	ResolvePath(path string) string
	Lookup(ctx context.Context, path string) (fileID, hash string, err error)
	Remember(ctx context.Context, hash, fileID, attType string) error
	Fetch(ctx context.Context, d filecache.Downloader, fileID, fileName string) (string, error)
}

// Send handles send actions.
type Send struct {
	messenger telegram.Messenger
	files     FileCache
	buttons   *trigger.ButtonMapper
	log       *slog.Logger
}

// NewSend creates the send handler. files and buttons may be nil.
func NewSend(m telegram.Messenger, files FileCache, buttons *trigger.ButtonMapper) *Send {
	return &Send{
		messenger: m,
		files:     files,
		buttons:   buttons,
		log:       logging.WithComponent("worker.send"),
	}
}

// plan is a send action resolved into Telegram calls.
type plan struct {
	chatID       int64
	sourceChatID int64
	messageID    int64
	text         string
	parseMode    string
	keyboard     *telegram.Keyboard
	attachments  []outgoing
	flags        flags
}

// Handle sends the message described by the row.
func (s *Send) Handle(ctx context.Context, p *action.Parsed) Result {
	log := logging.FromContext(ctx, s.log)
	pl, err := s.plan(p.Data, log)
	if err != nil {
		return Failed(err)
	}

	var sent []telegram.SentMessage
	if pl.flags.edit {
		msg, err := s.edit(ctx, pl)
		if err == nil {
			return Completed(response([]telegram.SentMessage{*msg}))
		}
		log.Warn("Failed to edit message, sending a new one",
			slog.Int64("message_id", pl.messageID), slog.Any("error", err))
	}

	if len(pl.attachments) > 0 {
		if err := s.prepare(ctx, pl.attachments); err != nil {
			return Failed(err)
		}
		sent, err = s.sendAttachments(ctx, pl, log)
	} else {
		var msg *telegram.SentMessage
		msg, err = s.sendText(ctx, pl, pl.replyTo(), log)
		if msg != nil {
			sent = append(sent, *msg)
		}
	}
	if err != nil {
		log.Error("Failed to send message", slog.Int64("chat_id", pl.chatID), slog.Any("error", err))
		return Failed(err)
	}

	if pl.flags.remove && pl.messageID > 0 {
		if err := s.messenger.DeleteMessage(ctx, pl.sourceChatID, pl.messageID); err != nil {
			log.Warn("Failed to remove source message",
				slog.Int64("chat_id", pl.sourceChatID), slog.Int64("message_id", pl.messageID), slog.Any("error", err))
		}
	}
	return Completed(response(sent))
}

func (s *Send) plan(d flat.Map, log *slog.Logger) (*plan, error) {
	chatID, ok := d.Int64(event.KeyChatID)
	if !ok || chatID == 0 {
		return nil, errors.New("chat_id is required")
	}
	pl := &plan{
		chatID:       chatID,
		sourceChatID: chatID,
		text:         composeText(d),
		parseMode:    parseMode(d.String(KeyParseMode)),
		attachments:  parseAttachments(d[KeyAttachment]),
	}
	if id, ok := d.Int64(KeyExactMessageID); ok && id > 0 {
		pl.messageID = id
	} else if id, ok := d.Int64(event.KeyMessageID); ok {
		pl.messageID = id
	}
	if pl.text == "" && len(pl.attachments) == 0 {
		return nil, errNothingToSend
	}

	if d.Bool(KeyPrivateAnswer) {
		if userID, ok := d.Int64(event.KeyUserID); ok && userID > 0 {
			pl.chatID = userID
		} else {
			log.Error("private_answer without user_id, answering in the source chat", slog.Int64("chat_id", chatID))
		}
	}

	pl.flags = resolveFlags(d, len(pl.attachments) > 0, log)
	pl.keyboard = buildKeyboard(d, s.buttons)

	limit := MaxTextLen
	if len(pl.attachments) > 0 {
		limit = MaxCaptionLen
	}
	if t, cut := truncate(pl.text, limit); cut {
		log.Warn("Message text truncated", slog.Int("limit", limit))
		pl.text = t
	}
	return pl, nil
}

// replyTo is the message the first outgoing call replies to. Replies only
// make sense inside the source chat.
func (pl *plan) replyTo() int64 {
	if !pl.flags.reply || pl.chatID != pl.sourceChatID {
		return 0
	}
	return pl.messageID
}

func (s *Send) edit(ctx context.Context, pl *plan) (*telegram.SentMessage, error) {
	if pl.messageID <= 0 {
		return nil, errNoMessageID
	}
	msg := telegram.EditMessage{
		ChatID:    pl.sourceChatID,
		MessageID: pl.messageID,
		Text:      pl.text,
		ParseMode: pl.parseMode,
	}
	if pl.keyboard != nil && len(pl.keyboard.Inline) > 0 {
		msg.Keyboard = &telegram.Keyboard{Inline: pl.keyboard.Inline}
	}
	return s.messenger.EditMessage(ctx, msg)
}

func (s *Send) sendText(ctx context.Context, pl *plan, replyTo int64, log *slog.Logger) (*telegram.SentMessage, error) {
	var msg *telegram.SentMessage
	err := withReplyRetry(replyTo, log, func(replyTo int64) error {
		var err error
		msg, err = s.messenger.SendMessage(ctx, telegram.OutgoingMessage{
			ChatID:    pl.chatID,
			Text:      pl.text,
			ParseMode: pl.parseMode,
			ReplyTo:   replyTo,
			Keyboard:  pl.keyboard,
		})
		return err
	})
	return msg, err
}

// sendAttachments sends the attachment batches in order. The caption and the
// reply go on the first call. A keyboard cannot ride on a media group, so
// when the first batch is a group the text and keyboard go out first as a
// plain message.
func (s *Send) sendAttachments(ctx context.Context, pl *plan, log *slog.Logger) ([]telegram.SentMessage, error) {
	items := make([]telegram.Attachment, len(pl.attachments))
	for i, o := range pl.attachments {
		items[i] = o.att
	}
	batches := telegram.GroupAttachments(items)

	var sent []telegram.SentMessage
	caption := pl.text
	keyboard := pl.keyboard
	replyTo := pl.replyTo()

	if !keyboard.Empty() && batches[0].IsGroup() {
		if caption != "" {
			msg, err := s.sendText(ctx, pl, replyTo, log)
			if err != nil {
				return sent, err
			}
			sent = append(sent, *msg)
			caption, keyboard, replyTo = "", nil, 0
		} else {
			log.Warn("Keyboard dropped: media groups cannot carry reply markup")
			keyboard = nil
		}
	}

	for _, b := range batches {
		if b.IsGroup() {
			var msgs []telegram.SentMessage
			err := withReplyRetry(replyTo, log, func(replyTo int64) error {
				var err error
				msgs, err = s.messenger.SendMediaGroup(ctx, telegram.MediaGroup{
					ChatID:      pl.chatID,
					Attachments: b.Attachments,
					Caption:     caption,
					ParseMode:   pl.parseMode,
					ReplyTo:     replyTo,
				})
				return err
			})
			if err != nil {
				return sent, err
			}
			for i, m := range msgs {
				if i < len(b.Attachments) {
					s.remember(ctx, pl.attachments, b.Attachments[i], m.FileID, log)
				}
			}
			sent = append(sent, msgs...)
		} else {
			var msg *telegram.SentMessage
			err := withReplyRetry(replyTo, log, func(replyTo int64) error {
				var err error
				msg, err = s.messenger.SendMedia(ctx, telegram.MediaMessage{
					ChatID:     pl.chatID,
					Attachment: b.Attachments[0],
					Caption:    caption,
					ParseMode:  pl.parseMode,
					ReplyTo:    replyTo,
					Keyboard:   keyboard,
				})
				return err
			})
			if err != nil {
				return sent, err
			}
			s.remember(ctx, pl.attachments, b.Attachments[0], msg.FileID, log)
			sent = append(sent, *msg)
			keyboard = nil
		}
		caption, replyTo = "", 0
	}
	return sent, nil
}

// prepare resolves reuploads and cached uploads in place.
func (s *Send) prepare(ctx context.Context, atts []outgoing) error {
	if s.files == nil {
		return nil
	}
	for i := range atts {
		o := &atts[i]
		if o.reupload && o.att.FileID != "" {
			path, err := s.files.Fetch(ctx, s.messenger, o.att.FileID, o.att.FileName)
			if err != nil {
				return fmt.Errorf("reupload %s: %w", o.att.FileID, err)
			}
			o.att.FileID, o.att.Path = "", path
		}
		if !o.att.IsUpload() {
			continue
		}
		o.att.Path = s.files.ResolvePath(o.att.Path)
		fileID, hash, err := s.files.Lookup(ctx, o.att.Path)
		if err != nil {
			return fmt.Errorf("attachment %s: %w", o.att.Path, err)
		}
		o.hash = hash
		if fileID != "" {
			o.att.FileID = fileID
		}
	}
	return nil
}

// remember stores the file id of a fresh upload.
func (s *Send) remember(ctx context.Context, atts []outgoing, sentAtt telegram.Attachment, fileID string, log *slog.Logger) {
	if s.files == nil || fileID == "" || !sentAtt.IsUpload() {
		return
	}
	for _, o := range atts {
		if o.att.Path == sentAtt.Path && o.hash != "" {
			if err := s.files.Remember(ctx, o.hash, fileID, o.att.Type); err != nil {
				log.Warn("Failed to cache upload", slog.String("path", o.att.Path), slog.Any("error", err))
			}
			return
		}
	}
}

// withReplyRetry runs call with replyTo and retries once without it when the
// reply target is gone.
func withReplyRetry(replyTo int64, log *slog.Logger, call func(replyTo int64) error) error {
	err := call(replyTo)
	if err == nil || replyTo == 0 || !telegram.IsReplyTargetGone(err) {
		return err
	}
	log.Warn("Reply target is gone, retrying without reply", slog.Int64("reply_to", replyTo))
	return call(0)
}

func response(sent []telegram.SentMessage) map[string]any {
	resp := map[string]any{}
	if len(sent) == 0 {
		return resp
	}
	ids := make([]int64, 0, len(sent))
	for _, m := range sent {
		ids = append(ids, m.MessageID)
	}
	resp[KeyLastMessageID] = ids[len(ids)-1]
	resp["message_ids"] = ids
	return resp
}
