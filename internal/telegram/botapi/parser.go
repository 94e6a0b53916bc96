// Package botapi adapts the Telegram Bot API (github.com/go-telegram/bot) to
// the scenarist event model and Messenger capability.
package botapi

import (
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// Parser converts Bot API updates into events.
type Parser struct {
	clock timeutil.Clock
}

// NewParser creates a Parser that renders dates in the clock's location.
func NewParser(clock timeutil.Clock) *Parser {
	return &Parser{clock: clock}
}

// ParseUpdate dispatches on the update kind. Unsupported updates yield false.
func (p *Parser) ParseUpdate(u *models.Update) (event.Event, bool) {
	switch {
	case u == nil:
		return nil, false
	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		return p.ParseNewMember(u.Message)
	case u.Message != nil:
		return p.ParseMessage(u.Message)
	case u.ChannelPost != nil:
		return p.ParseMessage(u.ChannelPost)
	case u.CallbackQuery != nil:
		return p.ParseCallback(u.CallbackQuery)
	}
	return nil, false
}

// ParseMessage converts a message or channel post.
func (p *Parser) ParseMessage(msg *models.Message) (event.Event, bool) {
	if msg == nil {
		return nil, false
	}
	e := event.Event{event.KeySourceType: event.SourceText}
	p.fillChat(e, &msg.Chat)
	p.fillSender(e, msg)
	p.fillBody(e, "", msg)

	e[event.KeyIsReply] = msg.ReplyToMessage != nil
	if r := msg.ReplyToMessage; r != nil {
		p.fillBody(e, event.ReplyPrefix, r)
		if r.From != nil {
			fillUser(e, event.ReplyPrefix, r.From)
		}
	}

	e[event.KeyIsForward] = msg.ForwardOrigin != nil
	if msg.ForwardOrigin != nil {
		fillForward(e, msg.ForwardOrigin)
	}
	return e, true
}

// ParseCallback converts a callback query. The message fields come from the
// message the button was attached to, when it is still accessible.
func (p *Parser) ParseCallback(cq *models.CallbackQuery) (event.Event, bool) {
	if cq == nil {
		return nil, false
	}
	e := event.Event{
		event.KeySourceType:   event.SourceCallback,
		event.KeyCallbackID:   cq.ID,
		event.KeyCallbackData: cq.Data,
		event.KeyIsReply:      false,
		event.KeyIsForward:    false,
	}
	fillUser(e, "", &cq.From)
	e[event.KeyEntityID] = cq.From.ID
	e[event.KeyEntityType] = telegram.PeerUser

	switch cq.Message.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if m := cq.Message.Message; m != nil {
			p.fillChat(e, &m.Chat)
			p.fillBody(e, "", m)
		}
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if m := cq.Message.InaccessibleMessage; m != nil {
			p.fillChat(e, &m.Chat)
			e[event.KeyMessageID] = int64(m.MessageID)
		}
	}
	if _, ok := e[event.KeyChatID]; !ok {
		e[event.KeyChatID] = cq.From.ID
		e[event.KeyChatType] = event.ChatPrivate
	}
	if _, ok := e[event.KeyEventDate]; !ok {
		e[event.KeyEventDate] = timeutil.FormatISO(p.clock.Now(), p.clock.Location())
	}
	return e, true
}

// ParseNewMember converts a service message announcing joined members.
func (p *Parser) ParseNewMember(msg *models.Message) (event.Event, bool) {
	if msg == nil || len(msg.NewChatMembers) == 0 {
		return nil, false
	}
	e := event.Event{
		event.KeySourceType: event.SourceNewMember,
		event.KeyMessageID:  int64(msg.ID),
		event.KeyEventDate:  p.eventDate(msg.Date),
		event.KeyIsReply:    false,
		event.KeyIsForward:  false,
	}
	p.fillChat(e, &msg.Chat)

	ids := make([]any, 0, len(msg.NewChatMembers))
	usernames := make([]any, 0, len(msg.NewChatMembers))
	firstNames := make([]any, 0, len(msg.NewChatMembers))
	lastNames := make([]any, 0, len(msg.NewChatMembers))
	bots := make([]any, 0, len(msg.NewChatMembers))
	for _, u := range msg.NewChatMembers {
		ids = append(ids, u.ID)
		usernames = append(usernames, u.Username)
		firstNames = append(firstNames, u.FirstName)
		lastNames = append(lastNames, u.LastName)
		bots = append(bots, u.IsBot)
	}
	e[event.KeyJoinedUserIDs] = ids
	e[event.KeyJoinedUsernames] = usernames
	e[event.KeyJoinedFirstNames] = firstNames
	e[event.KeyJoinedLastNames] = lastNames
	e[event.KeyJoinedIsBot] = bots

	first := msg.NewChatMembers[0]
	fillUser(e, "", &first)
	e[event.KeyEntityID] = first.ID
	e[event.KeyEntityType] = telegram.PeerUser

	if msg.From != nil {
		e[event.KeyInitiatorUserID] = msg.From.ID
		e[event.KeyInitiatorUsername] = msg.From.Username
	}
	return e, true
}

func (p *Parser) eventDate(unix int) string {
	if unix <= 0 {
		return timeutil.FormatISO(p.clock.Now(), p.clock.Location())
	}
	return timeutil.FormatISO(time.Unix(int64(unix), 0), p.clock.Location())
}

func (p *Parser) fillChat(e event.Event, chat *models.Chat) {
	e[event.KeyChatID] = chat.ID
	e[event.KeyChatType] = chatType(chat.Type)
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	e[event.KeyChatTitle] = title
}

func (p *Parser) fillSender(e event.Event, msg *models.Message) {
	switch {
	case msg.From != nil:
		fillUser(e, "", msg.From)
		e[event.KeyEntityID] = msg.From.ID
		e[event.KeyEntityType] = telegram.PeerUser
	case msg.SenderChat != nil:
		e[event.KeyUserID] = msg.SenderChat.ID
		e[event.KeyFirstName] = msg.SenderChat.Title
		e[event.KeyUsername] = msg.SenderChat.Username
		e[event.KeyIsBot] = false
		e[event.KeyEntityID] = msg.SenderChat.ID
		e[event.KeyEntityType] = telegram.PeerTypeOf(msg.SenderChat.ID)
	default:
		// channel post without signature
		e[event.KeyUserID] = msg.Chat.ID
		e[event.KeyFirstName] = msg.Chat.Title
		e[event.KeyIsBot] = false
		e[event.KeyEntityID] = msg.Chat.ID
		e[event.KeyEntityType] = telegram.PeerTypeOf(msg.Chat.ID)
	}
}

func (p *Parser) fillBody(e event.Event, prefix string, msg *models.Message) {
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	te := convertEntities(entities)

	e[prefix+event.KeyMessageID] = int64(msg.ID)
	e[prefix+event.KeyEventText] = text
	e[prefix+event.KeyEventTextMarkdown] = telegram.RenderMarkdown(text, te)
	e[prefix+event.KeyEventTextHTML] = telegram.RenderHTML(text, te)
	e[prefix+event.KeyEventDate] = p.eventDate(msg.Date)
	if prefix == "" && msg.MediaGroupID != "" {
		e[event.KeyMediaGroupID] = msg.MediaGroupID
	}
	e[prefix+event.KeyAttachments] = attachments(msg)
}

func fillUser(e event.Event, prefix string, u *models.User) {
	e[prefix+event.KeyUserID] = u.ID
	e[prefix+event.KeyUsername] = u.Username
	e[prefix+event.KeyFirstName] = u.FirstName
	e[prefix+event.KeyLastName] = u.LastName
	e[prefix+event.KeyIsBot] = u.IsBot
}

func fillForward(e event.Event, o *models.MessageOrigin) {
	p := event.ForwardPrefix
	switch o.Type {
	case models.MessageOriginTypeUser:
		if o.MessageOriginUser != nil {
			fillUser(e, p, &o.MessageOriginUser.SenderUser)
		}
	case models.MessageOriginTypeHiddenUser:
		if o.MessageOriginHiddenUser != nil {
			e[p+event.KeyFirstName] = o.MessageOriginHiddenUser.SenderUserName
		}
	case models.MessageOriginTypeChat:
		if o.MessageOriginChat != nil {
			e[p+event.KeyChatID] = o.MessageOriginChat.SenderChat.ID
			e[p+event.KeyChatTitle] = o.MessageOriginChat.SenderChat.Title
		}
	case models.MessageOriginTypeChannel:
		if o.MessageOriginChannel != nil {
			e[p+event.KeyChatID] = o.MessageOriginChannel.Chat.ID
			e[p+event.KeyChatTitle] = o.MessageOriginChannel.Chat.Title
			e[p+event.KeyMessageID] = int64(o.MessageOriginChannel.MessageID)
		}
	}
}

func chatType(t models.ChatType) string {
	switch t {
	case models.ChatTypePrivate:
		return event.ChatPrivate
	case models.ChatTypeGroup:
		return event.ChatGroup
	case models.ChatTypeSupergroup:
		return event.ChatSupergroup
	case models.ChatTypeChannel:
		return event.ChatChannel
	}
	return event.ChatUnknown
}

func convertEntities(in []models.MessageEntity) []telegram.TextEntity {
	if len(in) == 0 {
		return nil
	}
	out := make([]telegram.TextEntity, 0, len(in))
	for _, en := range in {
		te := telegram.TextEntity{
			Type:   string(en.Type),
			Offset: en.Offset,
			Length: en.Length,
			URL:    en.URL,
			Lang:   en.Language,
		}
		if en.User != nil {
			te.UserID = en.User.ID
		}
		out = append(out, te)
	}
	return out
}

func attachments(msg *models.Message) []any {
	var out []any
	add := func(typ, fileID, uniqueID string, size int64, extra map[string]any) {
		a := map[string]any{
			"type":           typ,
			"file_id":        fileID,
			"file_unique_id": uniqueID,
			"file_size":      size,
		}
		for k, v := range extra {
			a[k] = v
		}
		out = append(out, a)
	}

	if n := len(msg.Photo); n > 0 {
		best := msg.Photo[0]
		for _, ps := range msg.Photo[1:] {
			if ps.Width*ps.Height >= best.Width*best.Height {
				best = ps
			}
		}
		add(telegram.AttachPhoto, best.FileID, best.FileUniqueID, int64(best.FileSize),
			map[string]any{"width": best.Width, "height": best.Height})
	}
	switch {
	case msg.Animation != nil:
		a := msg.Animation
		add(telegram.AttachAnimation, a.FileID, a.FileUniqueID, int64(a.FileSize),
			map[string]any{"file_name": a.FileName, "mime_type": a.MimeType})
	case msg.Document != nil:
		d := msg.Document
		add(telegram.TypeFromMIME(d.MimeType, d.FileName), d.FileID, d.FileUniqueID, int64(d.FileSize),
			map[string]any{"file_name": d.FileName, "mime_type": d.MimeType})
	}
	if v := msg.Video; v != nil {
		add(telegram.AttachVideo, v.FileID, v.FileUniqueID, int64(v.FileSize),
			map[string]any{"file_name": v.FileName, "mime_type": v.MimeType, "duration": v.Duration})
	}
	if a := msg.Audio; a != nil {
		add(telegram.AttachAudio, a.FileID, a.FileUniqueID, int64(a.FileSize),
			map[string]any{"file_name": a.FileName, "mime_type": a.MimeType, "duration": a.Duration})
	}
	if v := msg.Voice; v != nil {
		add(telegram.AttachAudio, v.FileID, v.FileUniqueID, int64(v.FileSize),
			map[string]any{"mime_type": v.MimeType, "duration": v.Duration})
	}
	if s := msg.Sticker; s != nil {
		typ := telegram.AttachDocument
		if s.IsAnimated || s.IsVideo {
			typ = telegram.AttachAnimatedSticker
		}
		add(typ, s.FileID, s.FileUniqueID, int64(s.FileSize), nil)
	}
	if out == nil {
		return []any{}
	}
	return out
}
