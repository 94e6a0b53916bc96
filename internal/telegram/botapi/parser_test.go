package botapi

import (
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

func testParser() *Parser {
	return NewParser(timeutil.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestParseTextMessage(t *testing.T) {
	p := testParser()
	msg := &models.Message{
		ID:   7,
		Date: int(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC).Unix()),
		Chat: models.Chat{ID: 42, Type: models.ChatTypePrivate, FirstName: "Ann"},
		From: &models.User{ID: 42, FirstName: "Ann", Username: "ann"},
		Text: "/start",
	}

	e, ok := p.ParseUpdate(&models.Update{Message: msg})
	if !ok {
		t.Fatal("message not parsed")
	}

	tests := []struct {
		key  string
		want any
	}{
		{event.KeySourceType, event.SourceText},
		{event.KeyChatID, int64(42)},
		{event.KeyChatType, event.ChatPrivate},
		{event.KeyMessageID, int64(7)},
		{event.KeyUserID, int64(42)},
		{event.KeyUsername, "ann"},
		{event.KeyEventText, "/start"},
		{event.KeyIsReply, false},
		{event.KeyIsForward, false},
		{event.KeyIsBot, false},
		{event.KeyEventDate, "2026-05-01T09:00:00.000000+00:00"},
		{event.KeyEntityType, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if e[tt.key] != tt.want {
				t.Errorf("%s = %v (%T), want %v", tt.key, e[tt.key], e[tt.key], tt.want)
			}
		})
	}
}

func TestParseChannelPost(t *testing.T) {
	p := testParser()
	post := &models.Message{
		ID:   3,
		Chat: models.Chat{ID: -1001234, Type: models.ChatTypeChannel, Title: "News"},
		Text: "hello",
	}

	e, ok := p.ParseUpdate(&models.Update{ChannelPost: post})
	if !ok {
		t.Fatal("channel post not parsed")
	}
	if e[event.KeyUserID] != int64(-1001234) {
		t.Errorf("user_id = %v, want chat id", e[event.KeyUserID])
	}
	if e[event.KeyFirstName] != "News" || e[event.KeyIsBot] != false {
		t.Errorf("first_name = %v, is_bot = %v", e[event.KeyFirstName], e[event.KeyIsBot])
	}
	if e[event.KeyChatType] != event.ChatChannel {
		t.Errorf("chat_type = %v", e[event.KeyChatType])
	}
	if e[event.KeyEventDate] != "2026-05-01T10:00:00.000000+00:00" {
		t.Errorf("event_date should fall back to now, got %v", e[event.KeyEventDate])
	}
}

func TestParseReplyAndForward(t *testing.T) {
	p := testParser()
	msg := &models.Message{
		ID:   9,
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup, Title: "G"},
		From: &models.User{ID: 5, FirstName: "Bo"},
		ReplyToMessage: &models.Message{
			ID:   8,
			Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
			From: &models.User{ID: 6, FirstName: "Cy", IsBot: true},
			Text: "original",
		},
		ForwardOrigin: &models.MessageOrigin{
			Type:              models.MessageOriginTypeUser,
			MessageOriginUser: &models.MessageOriginUser{SenderUser: models.User{ID: 77, FirstName: "Di"}},
		},
		Caption: "look",
		Photo: []models.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 800, Height: 600},
		},
	}

	e, _ := p.ParseMessage(msg)
	if e[event.KeyIsReply] != true || e["reply_message_id"] != int64(8) || e["reply_user_id"] != int64(6) {
		t.Errorf("reply block = %v / %v / %v", e[event.KeyIsReply], e["reply_message_id"], e["reply_user_id"])
	}
	if e["reply_event_text"] != "original" || e["reply_is_bot"] != true {
		t.Errorf("reply text = %v, reply_is_bot = %v", e["reply_event_text"], e["reply_is_bot"])
	}
	if e[event.KeyIsForward] != true || e["forward_user_id"] != int64(77) {
		t.Errorf("forward block = %v / %v", e[event.KeyIsForward], e["forward_user_id"])
	}
	if e[event.KeyEventText] != "look" {
		t.Errorf("caption should become event_text, got %v", e[event.KeyEventText])
	}

	atts := event.Event(e).Attachments()
	if len(atts) != 1 || atts[0]["file_id"] != "large" || atts[0]["type"] != "photo" {
		t.Errorf("attachments = %v", atts)
	}
}

func TestParseDocumentTypes(t *testing.T) {
	p := testParser()
	tests := []struct {
		name string
		msg  *models.Message
		want string
	}{
		{"gif animation", &models.Message{Animation: &models.Animation{FileID: "a"}, Document: &models.Document{FileID: "a", MimeType: "video/mp4"}}, "animation"},
		{"image document", &models.Message{Document: &models.Document{FileID: "d", MimeType: "image/png"}}, "photo"},
		{"pdf", &models.Message{Document: &models.Document{FileID: "d", MimeType: "application/pdf"}}, "document"},
		{"animated sticker", &models.Message{Sticker: &models.Sticker{FileID: "s", IsAnimated: true}}, "animated_sticker"},
		{"voice", &models.Message{Voice: &models.Voice{FileID: "v", MimeType: "audio/ogg"}}, "audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.Chat = models.Chat{ID: 1, Type: models.ChatTypePrivate}
			e, _ := p.ParseMessage(tt.msg)
			atts := e.Attachments()
			if len(atts) != 1 {
				t.Fatalf("got %d attachments", len(atts))
			}
			if atts[0]["type"] != tt.want {
				t.Errorf("type = %v, want %s", atts[0]["type"], tt.want)
			}
		})
	}
}

func TestParseCallback(t *testing.T) {
	p := testParser()
	cq := &models.CallbackQuery{
		ID:   "cb-1",
		From: models.User{ID: 42, FirstName: "Ann"},
		Data: ":promo.claim",
		Message: models.MaybeInaccessibleMessage{
			Type: models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{
				ID:   11,
				Chat: models.Chat{ID: 42, Type: models.ChatTypePrivate},
				Text: "Pick one",
			},
		},
	}

	e, ok := p.ParseUpdate(&models.Update{CallbackQuery: cq})
	if !ok {
		t.Fatal("callback not parsed")
	}
	if e.SourceType() != event.SourceCallback {
		t.Errorf("source_type = %v", e.SourceType())
	}
	if e[event.KeyCallbackData] != ":promo.claim" || e[event.KeyCallbackID] != "cb-1" {
		t.Errorf("callback fields = %v / %v", e[event.KeyCallbackData], e[event.KeyCallbackID])
	}
	if e.ChatID() != 42 || e.MessageID() != 11 || e.UserID() != 42 {
		t.Errorf("ids = chat %d message %d user %d", e.ChatID(), e.MessageID(), e.UserID())
	}
	if e.DedupKey() != "42:cb-1" {
		t.Errorf("DedupKey = %q", e.DedupKey())
	}
}

func TestParseNewMember(t *testing.T) {
	p := testParser()
	msg := &models.Message{
		ID:   20,
		Chat: models.Chat{ID: -500, Type: models.ChatTypeGroup, Title: "Club"},
		From: &models.User{ID: 1, Username: "host"},
		NewChatMembers: []models.User{
			{ID: 2, Username: "new1"},
			{ID: 3, Username: "new2", IsBot: true},
		},
	}

	e, ok := p.ParseUpdate(&models.Update{Message: msg})
	if !ok {
		t.Fatal("new member not parsed")
	}
	if e.SourceType() != event.SourceNewMember {
		t.Fatalf("source_type = %v", e.SourceType())
	}
	ids, _ := e[event.KeyJoinedUserIDs].([]any)
	if len(ids) != 2 || ids[1] != int64(3) {
		t.Errorf("joined_user_ids = %v", e[event.KeyJoinedUserIDs])
	}
	if e[event.KeyInitiatorUsername] != "host" {
		t.Errorf("initiator_username = %v", e[event.KeyInitiatorUsername])
	}
	if e[event.KeyChatTitle] != "Club" || e.UserID() != 2 {
		t.Errorf("chat_title = %v, user_id = %d", e[event.KeyChatTitle], e.UserID())
	}
}
