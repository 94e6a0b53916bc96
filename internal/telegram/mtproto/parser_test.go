package mtproto

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

func testParser() *Parser {
	return NewParser(timeutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func testEntities() tg.Entities {
	return tg.Entities{
		Users: map[int64]*tg.User{
			42: {ID: 42, Username: "alice", FirstName: "Alice", LastName: "Smith", AccessHash: 7},
			43: {ID: 43, Username: "bob", FirstName: "Bob", Bot: true},
		},
		Chats: map[int64]*tg.Chat{
			500: {ID: 500, Title: "Basic"},
		},
		Channels: map[int64]*tg.Channel{
			900: {ID: 900, Title: "Super", Megagroup: true, AccessHash: 11},
			901: {ID: 901, Title: "News", Broadcast: true},
		},
	}
}

func TestParseMessageChatTypes(t *testing.T) {
	tests := []struct {
		name     string
		peer     tg.PeerClass
		chatID   int64
		chatType string
		title    string
	}{
		{"private", &tg.PeerUser{UserID: 42}, 42, event.ChatPrivate, "Alice Smith"},
		{"basic group", &tg.PeerChat{ChatID: 500}, -500, event.ChatGroup, "Basic"},
		{"supergroup", &tg.PeerChannel{ChannelID: 900}, -1000000000900, event.ChatSupergroup, "Super"},
		{"channel", &tg.PeerChannel{ChannelID: 901}, -1000000000901, event.ChatChannel, "News"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &tg.Message{ID: 10, PeerID: tt.peer, Message: "hi", Date: 1772366400}
			msg.SetFromID(&tg.PeerUser{UserID: 42})

			e, err := testParser().ParseMessage(msg, testEntities())
			if err != nil {
				t.Fatalf("ParseMessage: %v", err)
			}
			if e.ChatID() != tt.chatID {
				t.Errorf("chat_id = %d, want %d", e.ChatID(), tt.chatID)
			}
			if e[event.KeyChatType] != tt.chatType {
				t.Errorf("chat_type = %v, want %s", e[event.KeyChatType], tt.chatType)
			}
			if e[event.KeyChatTitle] != tt.title {
				t.Errorf("chat_title = %v, want %s", e[event.KeyChatTitle], tt.title)
			}
			if e.UserID() != 42 || e[event.KeyUsername] != "alice" {
				t.Errorf("sender = %v/%v", e[event.KeyUserID], e[event.KeyUsername])
			}
			if e[event.KeyEventDate] != "2026-03-01T12:00:00.000000+00:00" {
				t.Errorf("event_date = %v", e[event.KeyEventDate])
			}
		})
	}
}

func TestParseMessageAnonymousChannelPost(t *testing.T) {
	msg := &tg.Message{ID: 3, PeerID: &tg.PeerChannel{ChannelID: 901}, Message: "post", Post: true}

	e, err := testParser().ParseMessage(msg, testEntities())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if e.UserID() != -1000000000901 {
		t.Errorf("user_id = %d, want chat id", e.UserID())
	}
	if e[event.KeyFirstName] != "News" {
		t.Errorf("first_name = %v, want News", e[event.KeyFirstName])
	}
	if e[event.KeyIsBot] != false {
		t.Errorf("is_bot = %v", e[event.KeyIsBot])
	}
}

func TestParseMessageReplyForwardGroup(t *testing.T) {
	msg := &tg.Message{ID: 11, PeerID: &tg.PeerUser{UserID: 42}, Message: "x"}
	msg.SetFromID(&tg.PeerUser{UserID: 42})
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(7)
	msg.SetReplyTo(hdr)
	fwd := tg.MessageFwdHeader{}
	fwd.SetFromID(&tg.PeerUser{UserID: 43})
	msg.SetFwdFrom(fwd)
	msg.SetGroupedID(1234)

	e, err := testParser().ParseMessage(msg, testEntities())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if e[event.KeyIsReply] != true || e["reply_message_id"] != int64(7) {
		t.Errorf("reply = %v/%v", e[event.KeyIsReply], e["reply_message_id"])
	}
	if e[event.KeyIsForward] != true || e["forward_user_id"] != int64(43) || e["forward_is_bot"] != true {
		t.Errorf("forward = %v/%v/%v", e[event.KeyIsForward], e["forward_user_id"], e["forward_is_bot"])
	}
	if e.MediaGroupID() != "1234" {
		t.Errorf("media_group_id = %q", e.MediaGroupID())
	}
}

func TestParseMessageEntities(t *testing.T) {
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 42}, Message: "hello world"}
	msg.SetEntities([]tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 5}})

	e, err := testParser().ParseMessage(msg, testEntities())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got := e[event.KeyEventTextHTML]; got != "<b>hello</b> world" {
		t.Errorf("html = %v", got)
	}
}

func TestParseMessagePhoto(t *testing.T) {
	photo := &tg.Photo{
		ID:            99,
		AccessHash:    5,
		FileReference: []byte{1, 2, 3},
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "s", W: 90, H: 90, Size: 100},
			&tg.PhotoSize{Type: "x", W: 800, H: 800, Size: 5000},
			&tg.PhotoSizeProgressive{Type: "y", W: 1280, H: 1280, Sizes: []int{100, 9000}},
		},
	}
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 42}}
	msg.SetMedia(&tg.MessageMediaPhoto{Photo: photo})

	e, err := testParser().ParseMessage(msg, testEntities())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	atts := e.Attachments()
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}
	a := atts[0]
	if a["type"] != telegram.AttachPhoto || a["size_type"] != "y" || a["thumb_size"] != "y" {
		t.Errorf("photo = %v", a)
	}
	if a["file_size"] != int64(9000) {
		t.Errorf("file_size = %v", a["file_size"])
	}

	// the location survives a JSON column round trip
	raw, err := store.EncodeJSON(a)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	decoded, err := store.DecodeJSONMap(raw.(string))
	if err != nil {
		t.Fatalf("DecodeJSONMap: %v", err)
	}
	loc, err := InputLocation(decoded)
	if err != nil {
		t.Fatalf("InputLocation: %v", err)
	}
	pl, ok := loc.(*tg.InputPhotoFileLocation)
	if !ok {
		t.Fatalf("location = %T", loc)
	}
	if pl.ID != 99 || pl.AccessHash != 5 || pl.ThumbSize != "y" || string(pl.FileReference) != "\x01\x02\x03" {
		t.Errorf("location = %+v", pl)
	}
}

func TestParseMessageDocumentTypes(t *testing.T) {
	tests := []struct {
		name  string
		mime  string
		attrs []tg.DocumentAttributeClass
		want  string
	}{
		{"gif", "video/mp4", []tg.DocumentAttributeClass{&tg.DocumentAttributeAnimated{}, &tg.DocumentAttributeVideo{}}, telegram.AttachAnimation},
		{"video", "video/mp4", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}, telegram.AttachVideo},
		{"voice", "audio/ogg", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, telegram.AttachAudio},
		{"tgs", "application/x-tgsticker", []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}}, telegram.AttachAnimatedSticker},
		{"pdf", "application/pdf", []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "a.pdf"}}, telegram.AttachDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &tg.Document{ID: 1, MimeType: tt.mime, Attributes: tt.attrs}
			msg := &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 42}}
			msg.SetMedia(&tg.MessageMediaDocument{Document: doc})

			e, err := testParser().ParseMessage(msg, testEntities())
			if err != nil {
				t.Fatalf("ParseMessage: %v", err)
			}
			atts := e.Attachments()
			if len(atts) != 1 || atts[0]["type"] != tt.want {
				t.Errorf("attachments = %v, want type %s", atts, tt.want)
			}
		})
	}
}

func TestParseServiceNewMember(t *testing.T) {
	p := testParser()

	t.Run("added by admin", func(t *testing.T) {
		msg := &tg.MessageService{ID: 5, PeerID: &tg.PeerChat{ChatID: 500}, Action: &tg.MessageActionChatAddUser{Users: []int64{43}}}
		msg.SetFromID(&tg.PeerUser{UserID: 42})

		e, err := p.ParseService(msg, testEntities())
		if err != nil {
			t.Fatalf("ParseService: %v", err)
		}
		if e.SourceType() != event.SourceNewMember {
			t.Fatalf("source_type = %s", e.SourceType())
		}
		if e.UserID() != 43 || e[event.KeyInitiatorUserID] != int64(42) || e[event.KeyInitiatorUsername] != "alice" {
			t.Errorf("member = %v initiator = %v/%v", e[event.KeyUserID], e[event.KeyInitiatorUserID], e[event.KeyInitiatorUsername])
		}
	})

	t.Run("other service", func(t *testing.T) {
		msg := &tg.MessageService{ID: 6, PeerID: &tg.PeerChat{ChatID: 500}, Action: &tg.MessageActionChatEditTitle{Title: "x"}}
		e, err := p.ParseService(msg, testEntities())
		if err != nil || e != nil {
			t.Errorf("ParseService = %v, %v; want nil, nil", e, err)
		}
	})
}
