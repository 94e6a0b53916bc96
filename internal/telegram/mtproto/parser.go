// Package mtproto adapts MTProto messages (github.com/gotd/td) to the
// scenarist event model and resolves peers of unknown type.
package mtproto

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// thumbPreference orders photo size types from most to least preferred.
var thumbPreference = []string{"z", "y", "x", "m", "s"}

// Parser converts MTProto messages into events with the same key set as the
// Bot API parser.
type Parser struct {
	clock timeutil.Clock
}

// NewParser creates a Parser.
func NewParser(clock timeutil.Clock) *Parser {
	return &Parser{clock: clock}
}

// ParseMessage converts a regular message. ents resolves users and chats
// referenced by the message.
func (p *Parser) ParseMessage(msg *tg.Message, ents tg.Entities) (event.Event, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	e := event.Event{event.KeySourceType: event.SourceText}

	chatID, err := p.fillChat(e, msg.PeerID, ents)
	if err != nil {
		return nil, errors.Wrap(err, "chat")
	}

	if from, ok := msg.GetFromID(); ok {
		p.fillPeerSender(e, "", from, ents)
	} else if user, ok := msg.PeerID.(*tg.PeerUser); ok && !msg.Out {
		p.fillPeerSender(e, "", user, ents)
	} else {
		// anonymous channel post
		e[event.KeyUserID] = chatID
		e[event.KeyFirstName] = e[event.KeyChatTitle]
		e[event.KeyIsBot] = false
		e[event.KeyEntityID] = chatID
		e[event.KeyEntityType] = telegram.PeerTypeOf(chatID)
	}

	p.fillBody(e, "", msg)
	if gid, ok := msg.GetGroupedID(); ok && gid != 0 {
		e[event.KeyMediaGroupID] = strconv.FormatInt(gid, 10)
	}

	e[event.KeyIsReply] = false
	if hdr, ok := msg.GetReplyTo(); ok {
		if rh, ok := hdr.(*tg.MessageReplyHeader); ok {
			if id, ok := rh.GetReplyToMsgID(); ok {
				e[event.KeyIsReply] = true
				e[event.ReplyPrefix+event.KeyMessageID] = int64(id)
			}
		}
	}

	e[event.KeyIsForward] = false
	if fwd, ok := msg.GetFwdFrom(); ok {
		e[event.KeyIsForward] = true
		if from, ok := fwd.GetFromID(); ok {
			p.fillPeerSender(e, event.ForwardPrefix, from, ents)
		} else if name, ok := fwd.GetFromName(); ok {
			e[event.ForwardPrefix+event.KeyFirstName] = name
		}
		if post, ok := fwd.GetChannelPost(); ok {
			e[event.ForwardPrefix+event.KeyMessageID] = int64(post)
		}
	}
	return e, nil
}

// ParseService converts join service messages into new_member events.
// Other service messages yield (nil, nil).
func (p *Parser) ParseService(msg *tg.MessageService, ents tg.Entities) (event.Event, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	var joined []int64
	var initiator, sender int64
	if from, ok := msg.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			sender = u.UserID
		}
	}
	switch a := msg.Action.(type) {
	case *tg.MessageActionChatAddUser:
		joined = a.Users
		initiator = sender
	case *tg.MessageActionChatJoinedByLink:
		if sender != 0 {
			joined = []int64{sender}
		}
		initiator = a.InviterID
	case *tg.MessageActionChatJoinedByRequest:
		if sender != 0 {
			joined = []int64{sender}
		}
	default:
		return nil, nil
	}
	if len(joined) == 0 {
		return nil, nil
	}

	e := event.Event{
		event.KeySourceType: event.SourceNewMember,
		event.KeyMessageID:  int64(msg.ID),
		event.KeyEventDate:  p.eventDate(msg.Date),
		event.KeyIsReply:    false,
		event.KeyIsForward:  false,
	}
	if _, err := p.fillChat(e, msg.PeerID, ents); err != nil {
		return nil, errors.Wrap(err, "chat")
	}

	ids := make([]any, 0, len(joined))
	usernames := make([]any, 0, len(joined))
	firstNames := make([]any, 0, len(joined))
	lastNames := make([]any, 0, len(joined))
	bots := make([]any, 0, len(joined))
	for _, id := range joined {
		u := ents.Users[id]
		ids = append(ids, id)
		if u == nil {
			usernames, firstNames, lastNames, bots = append(usernames, ""), append(firstNames, ""), append(lastNames, ""), append(bots, false)
			continue
		}
		usernames = append(usernames, u.Username)
		firstNames = append(firstNames, u.FirstName)
		lastNames = append(lastNames, u.LastName)
		bots = append(bots, u.Bot)
	}
	e[event.KeyJoinedUserIDs] = ids
	e[event.KeyJoinedUsernames] = usernames
	e[event.KeyJoinedFirstNames] = firstNames
	e[event.KeyJoinedLastNames] = lastNames
	e[event.KeyJoinedIsBot] = bots

	p.fillPeerSender(e, "", &tg.PeerUser{UserID: joined[0]}, ents)
	if initiator != 0 {
		e[event.KeyInitiatorUserID] = initiator
		if u := ents.Users[initiator]; u != nil {
			e[event.KeyInitiatorUsername] = u.Username
		}
	}
	return e, nil
}

// ParseCallback converts a bot callback query. Only the id of the message
// carrying the button is known.
func (p *Parser) ParseCallback(u *tg.UpdateBotCallbackQuery, ents tg.Entities) (event.Event, error) {
	if u == nil {
		return nil, errors.New("nil callback query")
	}
	e := event.Event{
		event.KeySourceType:   event.SourceCallback,
		event.KeyCallbackID:   strconv.FormatInt(u.QueryID, 10),
		event.KeyCallbackData: string(u.Data),
		event.KeyMessageID:    int64(u.MsgID),
		event.KeyEventDate:    p.eventDate(0),
		event.KeyIsReply:      false,
		event.KeyIsForward:    false,
	}
	if _, err := p.fillChat(e, u.Peer, ents); err != nil {
		return nil, errors.Wrap(err, "chat")
	}
	p.fillPeerSender(e, "", &tg.PeerUser{UserID: u.UserID}, ents)
	return e, nil
}

func (p *Parser) eventDate(unix int) string {
	if unix <= 0 {
		return timeutil.FormatISO(p.clock.Now(), p.clock.Location())
	}
	return timeutil.FormatISO(time.Unix(int64(unix), 0), p.clock.Location())
}

func (p *Parser) fillChat(e event.Event, peer tg.PeerClass, ents tg.Entities) (int64, error) {
	switch pr := peer.(type) {
	case *tg.PeerUser:
		e[event.KeyChatID] = pr.UserID
		e[event.KeyChatType] = event.ChatPrivate
		title := ""
		if u := ents.Users[pr.UserID]; u != nil {
			title = strings.TrimSpace(u.FirstName + " " + u.LastName)
		}
		e[event.KeyChatTitle] = title
		return pr.UserID, nil
	case *tg.PeerChat:
		id := telegram.NormalizeID(pr.ChatID, telegram.PeerChat)
		e[event.KeyChatID] = id
		e[event.KeyChatType] = event.ChatGroup
		title := ""
		if c := ents.Chats[pr.ChatID]; c != nil {
			title = c.Title
		}
		e[event.KeyChatTitle] = title
		return id, nil
	case *tg.PeerChannel:
		id := telegram.NormalizeID(pr.ChannelID, telegram.PeerChannel)
		e[event.KeyChatID] = id
		e[event.KeyChatType] = event.ChatUnknown
		e[event.KeyChatTitle] = ""
		if c := ents.Channels[pr.ChannelID]; c != nil {
			e[event.KeyChatTitle] = c.Title
			if c.Broadcast {
				e[event.KeyChatType] = event.ChatChannel
			} else if c.Megagroup {
				e[event.KeyChatType] = event.ChatSupergroup
			}
		}
		return id, nil
	}
	return 0, errors.Errorf("unsupported peer %T", peer)
}

func (p *Parser) fillPeerSender(e event.Event, prefix string, peer tg.PeerClass, ents tg.Entities) {
	switch pr := peer.(type) {
	case *tg.PeerUser:
		e[prefix+event.KeyUserID] = pr.UserID
		e[prefix+event.KeyIsBot] = false
		if u := ents.Users[pr.UserID]; u != nil {
			e[prefix+event.KeyUsername] = u.Username
			e[prefix+event.KeyFirstName] = u.FirstName
			e[prefix+event.KeyLastName] = u.LastName
			e[prefix+event.KeyIsBot] = u.Bot
		}
		if prefix == "" {
			e[event.KeyEntityID] = pr.UserID
			e[event.KeyEntityType] = telegram.PeerUser
		}
	case *tg.PeerChat:
		id := telegram.NormalizeID(pr.ChatID, telegram.PeerChat)
		e[prefix+event.KeyUserID] = id
		e[prefix+event.KeyChatID] = id
		e[prefix+event.KeyIsBot] = false
		if c := ents.Chats[pr.ChatID]; c != nil {
			e[prefix+event.KeyFirstName] = c.Title
			e[prefix+event.KeyChatTitle] = c.Title
		}
		if prefix == "" {
			e[event.KeyEntityID] = id
			e[event.KeyEntityType] = telegram.PeerChat
		}
	case *tg.PeerChannel:
		id := telegram.NormalizeID(pr.ChannelID, telegram.PeerChannel)
		e[prefix+event.KeyUserID] = id
		e[prefix+event.KeyChatID] = id
		e[prefix+event.KeyIsBot] = false
		if c := ents.Channels[pr.ChannelID]; c != nil {
			e[prefix+event.KeyFirstName] = c.Title
			e[prefix+event.KeyChatTitle] = c.Title
			e[prefix+event.KeyUsername] = c.Username
		}
		if prefix == "" {
			e[event.KeyEntityID] = id
			e[event.KeyEntityType] = telegram.PeerChannel
		}
	}
}

func (p *Parser) fillBody(e event.Event, prefix string, msg *tg.Message) {
	entities := convertEntities(msg.Entities)
	e[prefix+event.KeyMessageID] = int64(msg.ID)
	e[prefix+event.KeyEventText] = msg.Message
	e[prefix+event.KeyEventTextMarkdown] = telegram.RenderMarkdown(msg.Message, entities)
	e[prefix+event.KeyEventTextHTML] = telegram.RenderHTML(msg.Message, entities)
	e[prefix+event.KeyEventDate] = p.eventDate(msg.Date)

	atts := []any{}
	if media, ok := msg.GetMedia(); ok {
		if a := attachment(media); a != nil {
			atts = append(atts, a)
		}
	}
	e[prefix+event.KeyAttachments] = atts
}

func convertEntities(in []tg.MessageEntityClass) []telegram.TextEntity {
	if len(in) == 0 {
		return nil
	}
	out := make([]telegram.TextEntity, 0, len(in))
	for _, en := range in {
		te := telegram.TextEntity{Offset: en.GetOffset(), Length: en.GetLength()}
		switch x := en.(type) {
		case *tg.MessageEntityBold:
			te.Type = "bold"
		case *tg.MessageEntityItalic:
			te.Type = "italic"
		case *tg.MessageEntityUnderline:
			te.Type = "underline"
		case *tg.MessageEntityStrike:
			te.Type = "strikethrough"
		case *tg.MessageEntitySpoiler:
			te.Type = "spoiler"
		case *tg.MessageEntityCode:
			te.Type = "code"
		case *tg.MessageEntityPre:
			te.Type, te.Lang = "pre", x.Language
		case *tg.MessageEntityTextURL:
			te.Type, te.URL = "text_link", x.URL
		case *tg.MessageEntityMentionName:
			te.Type, te.UserID = "text_mention", x.UserID
		case *tg.MessageEntityBlockquote:
			te.Type = "blockquote"
		default:
			continue
		}
		out = append(out, te)
	}
	return out
}

func attachment(media tg.MessageMediaClass) map[string]any {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		best, thumb, size := largestPhotoSize(photo.Sizes)
		return map[string]any{
			"type":           telegram.AttachPhoto,
			"file_id":        "photo:" + strconv.FormatInt(photo.ID, 10),
			"id":             photo.ID,
			"access_hash":    photo.AccessHash,
			"file_reference": photo.FileReference,
			"dc_id":          int64(photo.DCID),
			"file_size":      int64(size),
			"size_type":      best,
			"thumb_size":     thumb,
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return map[string]any{
			"type":           documentType(doc),
			"file_id":        "document:" + strconv.FormatInt(doc.ID, 10),
			"id":             doc.ID,
			"access_hash":    doc.AccessHash,
			"file_reference": doc.FileReference,
			"dc_id":          int64(doc.DCID),
			"file_size":      doc.Size,
			"mime_type":      doc.MimeType,
			"file_name":      documentFileName(doc),
		}
	}
	return nil
}

// largestPhotoSize returns the type of the biggest size, the preferred thumb
// type (z > y > x > m > s) and the byte size of the biggest.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (best, thumb string, size int) {
	area := -1
	available := map[string]bool{}
	for _, s := range sizes {
		var typ string
		var w, h, n int
		switch x := s.(type) {
		case *tg.PhotoSize:
			typ, w, h, n = x.Type, x.W, x.H, x.Size
		case *tg.PhotoSizeProgressive:
			typ, w, h = x.Type, x.W, x.H
			if len(x.Sizes) > 0 {
				n = x.Sizes[len(x.Sizes)-1]
			}
		default:
			continue
		}
		available[typ] = true
		if w*h > area {
			area, best, size = w*h, typ, n
		}
	}
	for _, t := range thumbPreference {
		if available[t] {
			thumb = t
			break
		}
	}
	return best, thumb, size
}

func documentType(doc *tg.Document) string {
	var animated, sticker, video, audio bool
	for _, attr := range doc.Attributes {
		switch attr.(type) {
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeSticker:
			sticker = true
		case *tg.DocumentAttributeVideo:
			video = true
		case *tg.DocumentAttributeAudio:
			audio = true
		}
	}
	switch {
	case sticker && (doc.MimeType == "application/x-tgsticker" || doc.MimeType == "video/webm"):
		return telegram.AttachAnimatedSticker
	case animated:
		return telegram.AttachAnimation
	case video:
		return telegram.AttachVideo
	case audio:
		return telegram.AttachAudio
	}
	return telegram.TypeFromMIME(doc.MimeType, documentFileName(doc))
}

func documentFileName(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if f, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return f.FileName
		}
	}
	return ""
}
