package botapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/alekspetrov/scenarist/internal/telegram"
)

// Messenger implements telegram.Messenger over the Bot API.
type Messenger struct {
	bot        *bot.Bot
	httpClient *http.Client
}

// NewMessenger wraps an initialized bot.
func NewMessenger(b *bot.Bot) *Messenger {
	return &Messenger{
		bot:        b,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SendMessage sends a text message.
func (m *Messenger) SendMessage(ctx context.Context, msg telegram.OutgoingMessage) (*telegram.SentMessage, error) {
	res, err := m.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          msg.ChatID,
		Text:            msg.Text,
		ParseMode:       models.ParseMode(msg.ParseMode),
		ReplyParameters: replyParams(msg.ReplyTo),
		ReplyMarkup:     replyMarkup(msg.Keyboard),
	})
	if err != nil {
		return nil, classify("send message", err)
	}
	return sent(res), nil
}

// SendMedia sends one attachment with the call matching its type.
func (m *Messenger) SendMedia(ctx context.Context, msg telegram.MediaMessage) (*telegram.SentMessage, error) {
	file, closeFile, err := inputFile(msg.Attachment)
	if err != nil {
		return nil, err
	}
	defer closeFile()

	var (
		res      *models.Message
		chatID   = msg.ChatID
		mode     = models.ParseMode(msg.ParseMode)
		reply    = replyParams(msg.ReplyTo)
		markup   = replyMarkup(msg.Keyboard)
		callName = "send " + msg.Attachment.Type
	)
	switch msg.Attachment.Type {
	case telegram.AttachPhoto:
		res, err = m.bot.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: file, Caption: msg.Caption,
			ParseMode: mode, ReplyParameters: reply, ReplyMarkup: markup})
	case telegram.AttachVideo:
		res, err = m.bot.SendVideo(ctx, &bot.SendVideoParams{ChatID: chatID, Video: file, Caption: msg.Caption,
			ParseMode: mode, ReplyParameters: reply, ReplyMarkup: markup})
	case telegram.AttachAnimation:
		res, err = m.bot.SendAnimation(ctx, &bot.SendAnimationParams{ChatID: chatID, Animation: file, Caption: msg.Caption,
			ParseMode: mode, ReplyParameters: reply, ReplyMarkup: markup})
	case telegram.AttachAudio, telegram.AttachVoice:
		res, err = m.bot.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: file, Caption: msg.Caption,
			ParseMode: mode, ReplyParameters: reply, ReplyMarkup: markup})
	case telegram.AttachSticker, telegram.AttachAnimatedSticker:
		res, err = m.bot.SendSticker(ctx, &bot.SendStickerParams{ChatID: chatID, Sticker: file,
			ReplyParameters: reply, ReplyMarkup: markup})
	default:
		callName = "send document"
		res, err = m.bot.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: file, Caption: msg.Caption,
			ParseMode: mode, ReplyParameters: reply, ReplyMarkup: markup})
	}
	if err != nil {
		return nil, classify(callName, err)
	}
	return sent(res), nil
}

// SendMediaGroup sends an album. The caption is placed on the first item.
func (m *Messenger) SendMediaGroup(ctx context.Context, group telegram.MediaGroup) ([]telegram.SentMessage, error) {
	if len(group.Attachments) == 0 {
		return nil, fmt.Errorf("empty media group")
	}
	media := make([]models.InputMedia, 0, len(group.Attachments))
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for i, a := range group.Attachments {
		ref, reader, closeFile, err := mediaSource(a, i)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closeFile)

		caption, mode := "", models.ParseMode("")
		if i == 0 {
			caption, mode = group.Caption, models.ParseMode(group.ParseMode)
		}
		switch a.Type {
		case telegram.AttachPhoto:
			media = append(media, &models.InputMediaPhoto{Media: ref, MediaAttachment: reader, Caption: caption, ParseMode: mode})
		case telegram.AttachVideo:
			media = append(media, &models.InputMediaVideo{Media: ref, MediaAttachment: reader, Caption: caption, ParseMode: mode})
		case telegram.AttachAudio, telegram.AttachVoice:
			media = append(media, &models.InputMediaAudio{Media: ref, MediaAttachment: reader, Caption: caption, ParseMode: mode})
		default:
			media = append(media, &models.InputMediaDocument{Media: ref, MediaAttachment: reader, Caption: caption, ParseMode: mode})
		}
	}

	res, err := m.bot.SendMediaGroup(ctx, &bot.SendMediaGroupParams{
		ChatID:          group.ChatID,
		Media:           media,
		ReplyParameters: replyParams(group.ReplyTo),
	})
	if err != nil {
		return nil, classify("send media group", err)
	}
	out := make([]telegram.SentMessage, 0, len(res))
	for _, r := range res {
		out = append(out, *sent(r))
	}
	return out, nil
}

// EditMessage edits the text and inline keyboard of a message.
func (m *Messenger) EditMessage(ctx context.Context, msg telegram.EditMessage) (*telegram.SentMessage, error) {
	params := &bot.EditMessageTextParams{
		ChatID:    msg.ChatID,
		MessageID: int(msg.MessageID),
		Text:      msg.Text,
		ParseMode: models.ParseMode(msg.ParseMode),
	}
	if msg.Keyboard != nil && len(msg.Keyboard.Inline) > 0 {
		params.ReplyMarkup = inlineMarkup(msg.Keyboard.Inline)
	}
	res, err := m.bot.EditMessageText(ctx, params)
	if err != nil {
		return nil, classify("edit message", err)
	}
	return sent(res), nil
}

// DeleteMessage deletes a message.
func (m *Messenger) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := m.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: int(messageID)})
	if err != nil {
		return classify("delete message", err)
	}
	return nil
}

// DownloadFile streams the file behind fileID into w.
func (m *Messenger) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	f, err := m.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return classify("get file", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.bot.FileDownloadLink(f), nil)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w: %v", telegram.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	return nil
}

// GetEntity resolves a chat or user by its Bot API id.
func (m *Messenger) GetEntity(ctx context.Context, id int64) (*telegram.Entity, error) {
	chat, err := m.bot.GetChat(ctx, &bot.GetChatParams{ChatID: id})
	if err != nil {
		return nil, classify("get chat", err)
	}
	return &telegram.Entity{
		ID:        chat.ID,
		Type:      telegram.PeerTypeOf(chat.ID),
		Title:     chat.Title,
		Username:  chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}, nil
}

// SetCommands publishes the bot command menu. An empty list deletes it.
func (m *Messenger) SetCommands(ctx context.Context, commands map[string]string) error {
	if len(commands) == 0 {
		_, err := m.bot.DeleteMyCommands(ctx, &bot.DeleteMyCommandsParams{})
		return classify("delete commands", err)
	}
	list := make([]models.BotCommand, 0, len(commands))
	for cmd, desc := range commands {
		list = append(list, models.BotCommand{Command: strings.TrimPrefix(cmd, "/"), Description: desc})
	}
	_, err := m.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: list})
	return classify("set commands", err)
}

func sent(msg *models.Message) *telegram.SentMessage {
	if msg == nil {
		return &telegram.SentMessage{}
	}
	out := &telegram.SentMessage{ChatID: msg.Chat.ID, MessageID: int64(msg.ID)}
	if atts := attachments(msg); len(atts) > 0 {
		if a, ok := atts[0].(map[string]any); ok {
			out.FileID, _ = a["file_id"].(string)
		}
	}
	return out
}

func replyParams(replyTo int64) *models.ReplyParameters {
	if replyTo == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: int(replyTo)}
}

func replyMarkup(k *telegram.Keyboard) models.ReplyMarkup {
	switch {
	case k == nil:
		return nil
	case len(k.Inline) > 0:
		return inlineMarkup(k.Inline)
	case len(k.Reply) > 0:
		rows := make([][]models.KeyboardButton, 0, len(k.Reply))
		for _, row := range k.Reply {
			buttons := make([]models.KeyboardButton, 0, len(row))
			for _, text := range row {
				buttons = append(buttons, models.KeyboardButton{Text: text})
			}
			rows = append(rows, buttons)
		}
		return &models.ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
	case k.RemoveReply:
		return &models.ReplyKeyboardRemove{RemoveKeyboard: true}
	}
	return nil
}

func inlineMarkup(rows [][]telegram.Button) *models.InlineKeyboardMarkup {
	out := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.CallbackData, URL: b.URL})
		}
		out = append(out, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: out}
}

func inputFile(a telegram.Attachment) (models.InputFile, func(), error) {
	if !a.IsUpload() {
		return &models.InputFileString{Data: a.Source()}, func() {}, nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	name := a.FileName
	if name == "" {
		name = filepath.Base(a.Path)
	}
	return &models.InputFileUpload{Filename: name, Data: f}, func() { _ = f.Close() }, nil
}

func mediaSource(a telegram.Attachment, idx int) (string, io.Reader, func(), error) {
	if !a.IsUpload() {
		return a.Source(), nil, func() {}, nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	name := fmt.Sprintf("file%d%s", idx, filepath.Ext(a.Path))
	return "attach://" + name, f, func() { _ = f.Close() }, nil
}

// classify wraps Bot API errors with the telegram error classes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case bot.IsTooManyRequestsError(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, telegram.ErrTransient, err)
	case errors.Is(err, bot.ErrorForbidden):
		return fmt.Errorf("%s: %w: %v", op, telegram.ErrForbidden, err)
	case telegram.IsReplyTargetGone(err):
		return fmt.Errorf("%s: %w: %v", op, telegram.ErrReplyTargetGone, err)
	case errors.Is(err, bot.ErrorBadRequest) && strings.Contains(strings.ToLower(err.Error()), "message to delete not found"),
		errors.Is(err, bot.ErrorBadRequest) && strings.Contains(strings.ToLower(err.Error()), "message to edit not found"):
		return fmt.Errorf("%s: %w: %v", op, telegram.ErrMessageGone, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", op, telegram.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
