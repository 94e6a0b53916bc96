package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alekspetrov/scenarist/internal/filecache"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/trigger"
)

func TestSendText(t *testing.T) {
	m := &fakeMessenger{}
	res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id":         int64(42),
		"message_id":      int64(7),
		"text":            "hi",
		"additional_text": " there",
		"parse_mode":      "html",
	}))

	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q, response = %v", res.Status, res.Response)
	}
	if len(m.texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(m.texts))
	}
	got := m.texts[0]
	if got.ChatID != 42 || got.Text != "hi there" || got.ParseMode != "HTML" || got.ReplyTo != 0 {
		t.Errorf("message = %+v", got)
	}
	if res.Response[KeySuccess] != true || res.Response[KeyLastMessageID] != int64(100) {
		t.Errorf("response = %v", res.Response)
	}
}

func TestSendNothing(t *testing.T) {
	res := NewSend(&fakeMessenger{}, nil, nil).Handle(context.Background(), parsed(map[string]any{"chat_id": int64(42)}))
	if res.Status != store.StatusFailed || res.Response[KeySuccess] != false {
		t.Errorf("result = %+v", res)
	}
}

func TestSendTruncates(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		limit int
	}{
		{"plain text", map[string]any{"text": strings.Repeat("a", 5000)}, MaxTextLen},
		{"caption", map[string]any{"text": strings.Repeat("б", 1200), "attachment": map[string]any{"type": "photo", "file_id": "AgAD"}}, MaxCaptionLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMessenger{}
			tt.data["chat_id"] = int64(42)
			res := NewSend(m, nil, nil).Handle(context.Background(), parsed(tt.data))
			if res.Status != store.StatusCompleted {
				t.Fatalf("status = %q: %v", res.Status, res.Response)
			}
			var text string
			if len(m.texts) > 0 {
				text = m.texts[0].Text
			} else {
				text = m.media[0].Caption
			}
			if n := utf8.RuneCountInString(text); n != tt.limit {
				t.Errorf("length = %d, want %d", n, tt.limit)
			}
			if !strings.HasSuffix(text, "...") {
				t.Error("truncated text should end with an ellipsis")
			}
		})
	}
}

func TestResolveFlags(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		media bool
		want  flags
	}{
		{"none", map[string]any{}, false, flags{}},
		{"reply beats edit and remove", map[string]any{"message_reply": true, "callback_edit": true, "remove": true}, false, flags{reply: true}},
		{"edit beats remove", map[string]any{"callback_edit": true, "remove": "yes"}, false, flags{edit: true}},
		{"edit dropped with media", map[string]any{"callback_edit": true, "remove": true}, true, flags{remove: true}},
		{"remove alone", map[string]any{"remove": 1}, false, flags{remove: true}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveFlags(flat.Map(tt.data), tt.media, log); got != tt.want {
				t.Errorf("resolveFlags = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSendReplyRetry(t *testing.T) {
	m := &fakeMessenger{sendErr: func(replyTo int64) error {
		if replyTo != 0 {
			return fmt.Errorf("send message: %w", telegram.ErrReplyTargetGone)
		}
		return nil
	}}
	res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id": int64(42), "message_id": int64(7), "text": "hi", "message_reply": true,
	}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q: %v", res.Status, res.Response)
	}
	if len(m.texts) != 1 || m.texts[0].ReplyTo != 0 {
		t.Errorf("texts = %+v, want one message without reply", m.texts)
	}
}

func TestSendFailure(t *testing.T) {
	m := &fakeMessenger{sendErr: func(int64) error { return telegram.ErrForbidden }}
	res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{"chat_id": int64(42), "text": "hi"}))
	if res.Status != store.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if !strings.Contains(fmt.Sprint(res.Response[KeyError]), "forbidden") {
		t.Errorf("error = %v", res.Response[KeyError])
	}
}

func TestSendCallbackEdit(t *testing.T) {
	t.Run("edits source message", func(t *testing.T) {
		m := &fakeMessenger{}
		res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
			"chat_id": int64(42), "message_id": int64(7), "text": "updated", "callback_edit": true,
			"inline": []any{[]any{"Next"}},
		}))
		if res.Status != store.StatusCompleted {
			t.Fatalf("status = %q", res.Status)
		}
		if len(m.edits) != 1 || m.edits[0].MessageID != 7 || m.edits[0].Text != "updated" {
			t.Fatalf("edits = %+v", m.edits)
		}
		if m.edits[0].Keyboard == nil || m.edits[0].Keyboard.Inline[0][0].CallbackData != "next" {
			t.Errorf("keyboard = %+v", m.edits[0].Keyboard)
		}
		if len(m.texts) != 0 {
			t.Errorf("unexpected new message")
		}
	})

	t.Run("falls back to new message", func(t *testing.T) {
		m := &fakeMessenger{editErr: telegram.ErrMessageGone}
		res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
			"chat_id": int64(42), "message_id": int64(7), "text": "updated", "callback_edit": true,
		}))
		if res.Status != store.StatusCompleted || len(m.texts) != 1 {
			t.Errorf("status = %q texts = %d, want fallback send", res.Status, len(m.texts))
		}
	})

	t.Run("exact message id", func(t *testing.T) {
		m := &fakeMessenger{}
		NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
			"chat_id": int64(42), "message_id": int64(7), "exact_message_id": "11", "text": "x", "callback_edit": true,
		}))
		if len(m.edits) != 1 || m.edits[0].MessageID != 11 {
			t.Errorf("edits = %+v, want message 11", m.edits)
		}
	})
}

func TestSendPrivateAnswerAndRemove(t *testing.T) {
	m := &fakeMessenger{deleteErr: telegram.ErrMessageGone}
	res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id": int64(-1001), "user_id": int64(5), "message_id": int64(7),
		"text": "psst", "private_answer": true, "remove": true,
	}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q; delete failures must not fail the send", res.Status)
	}
	if len(m.texts) != 1 || m.texts[0].ChatID != 5 {
		t.Errorf("texts = %+v, want message to user 5", m.texts)
	}
	if len(m.deletes) != 1 || m.deletes[0] != [2]int64{-1001, 7} {
		t.Errorf("deletes = %v, want source message removed", m.deletes)
	}
}

func TestSendKeyboards(t *testing.T) {
	mapper := trigger.NewButtonMapper([]string{"Да", "Buy now"})
	tests := []struct {
		name string
		data map[string]any
		want func(t *testing.T, k *telegram.Keyboard)
	}{
		{
			name: "inline buttons",
			data: map[string]any{"inline": []any{
				[]any{"Buy now", map[string]any{"text": "Promo", "scenario": "promo.claim"}},
				map[string]any{"text": "Site", "url": "https://example.com"},
			}},
			want: func(t *testing.T, k *telegram.Keyboard) {
				if len(k.Inline) != 2 || len(k.Inline[0]) != 2 {
					t.Fatalf("inline = %+v", k.Inline)
				}
				if k.Inline[0][0].CallbackData != "buy_now" || k.Inline[0][1].CallbackData != ":promo.claim" {
					t.Errorf("callbacks = %+v", k.Inline[0])
				}
				if k.Inline[1][0].URL != "https://example.com" || k.Inline[1][0].CallbackData != "" {
					t.Errorf("url button = %+v", k.Inline[1][0])
				}
			},
		},
		{
			name: "inline wins over reply",
			data: map[string]any{"inline": []any{"Да"}, "reply": []any{[]any{"one"}}},
			want: func(t *testing.T, k *telegram.Keyboard) {
				if len(k.Inline) != 1 || len(k.Reply) != 0 {
					t.Errorf("keyboard = %+v", k)
				}
				if want, _ := mapper.Text(k.Inline[0][0].CallbackData); want != "Да" {
					t.Errorf("callback %q does not map back", k.Inline[0][0].CallbackData)
				}
			},
		},
		{
			name: "reply keyboard",
			data: map[string]any{"reply": []any{[]any{"one", "two"}, []any{"three"}}},
			want: func(t *testing.T, k *telegram.Keyboard) {
				if len(k.Reply) != 2 || k.Reply[0][1] != "two" {
					t.Errorf("reply = %+v", k.Reply)
				}
			},
		},
		{
			name: "empty reply removes keyboard",
			data: map[string]any{"reply": []any{}},
			want: func(t *testing.T, k *telegram.Keyboard) {
				if !k.RemoveReply {
					t.Errorf("keyboard = %+v, want RemoveReply", k)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMessenger{}
			tt.data["chat_id"] = int64(42)
			tt.data["text"] = "pick"
			NewSend(m, nil, mapper).Handle(context.Background(), parsed(tt.data))
			if len(m.texts) != 1 || m.texts[0].Keyboard == nil {
				t.Fatalf("texts = %+v", m.texts)
			}
			tt.want(t, m.texts[0].Keyboard)
		})
	}
}

func TestSendAttachmentOrder(t *testing.T) {
	m := &fakeMessenger{}
	res := NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id": int64(42),
		"text":    "album",
		"attachment": []any{
			map[string]any{"type": "photo", "file_id": "p1"},
			map[string]any{"type": "audio", "file_id": "a1"},
			map[string]any{"type": "document", "file_id": "d1"},
			map[string]any{"type": "video", "file_id": "v1"},
		},
	}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q: %v", res.Status, res.Response)
	}
	if len(m.groups) != 1 || len(m.groups[0].Attachments) != 2 {
		t.Fatalf("groups = %+v, want one photo/video group", m.groups)
	}
	if m.groups[0].Caption != "album" {
		t.Errorf("group caption = %q", m.groups[0].Caption)
	}
	if len(m.media) != 2 || m.media[0].Attachment.FileID != "d1" || m.media[1].Attachment.FileID != "a1" {
		t.Fatalf("media = %+v, want document then audio", m.media)
	}
	if m.media[0].Caption != "" {
		t.Errorf("caption repeated on later batch")
	}
	if res.Response[KeyLastMessageID] != int64(103) {
		t.Errorf("last_message_id = %v", res.Response[KeyLastMessageID])
	}
}

func TestSendGroupWithKeyboard(t *testing.T) {
	m := &fakeMessenger{}
	NewSend(m, nil, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id":    int64(42),
		"text":       "pick one",
		"inline":     []any{"A"},
		"attachment": []any{"https://example.com/a.jpg", "https://example.com/b.jpg"},
	}))
	if len(m.texts) != 1 || m.texts[0].Keyboard == nil {
		t.Fatalf("texts = %+v, want text with keyboard first", m.texts)
	}
	if len(m.groups) != 1 || m.groups[0].Caption != "" {
		t.Errorf("groups = %+v, want uncaptioned group", m.groups)
	}
	if m.groups[0].Attachments[0].Type != telegram.AttachPhoto || m.groups[0].Attachments[0].URL == "" {
		t.Errorf("attachment = %+v", m.groups[0].Attachments[0])
	}
}

func TestParseAttachment(t *testing.T) {
	tests := []struct {
		in   any
		want telegram.Attachment
	}{
		{"https://example.com/x.mp4?sig=1", telegram.Attachment{Type: telegram.AttachVideo, URL: "https://example.com/x.mp4?sig=1"}},
		{"banners/promo.png", telegram.Attachment{Type: telegram.AttachPhoto, Path: "banners/promo.png"}},
		{"BQACAgIAAxkBAAI", telegram.Attachment{Type: telegram.AttachDocument, FileID: "BQACAgIAAxkBAAI"}},
		{map[string]any{"file_id": "x", "mime_type": "image/gif"}, telegram.Attachment{Type: telegram.AttachAnimation, FileID: "x"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			o, ok := parseAttachment(tt.in)
			if !ok {
				t.Fatal("parseAttachment rejected input")
			}
			if o.att != tt.want {
				t.Errorf("attachment = %+v, want %+v", o.att, tt.want)
			}
		})
	}
	if _, ok := parseAttachment(map[string]any{"type": "photo"}); ok {
		t.Error("attachment without a source accepted")
	}
}

func TestSendUploadCache(t *testing.T) {
	db, _ := setupDB(t)
	filesDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(filesDir, "promo.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache := filecache.New(store.NewCacheStore(db, t.TempDir()), filesDir)
	m := &fakeMessenger{}
	send := NewSend(m, cache, nil)
	data := func() map[string]any {
		return map[string]any{"chat_id": int64(42), "attachment": "promo.jpg"}
	}

	if res := send.Handle(context.Background(), parsed(data())); res.Status != store.StatusCompleted {
		t.Fatalf("first send: %v", res.Response)
	}
	if m.uploads != 1 || m.media[0].Attachment.Path != filepath.Join(filesDir, "promo.jpg") {
		t.Fatalf("first send should upload from files dir, got %+v", m.media[0].Attachment)
	}

	if res := send.Handle(context.Background(), parsed(data())); res.Status != store.StatusCompleted {
		t.Fatalf("second send: %v", res.Response)
	}
	if m.uploads != 1 || m.media[1].Attachment.FileID != "uploaded-promo.jpg" {
		t.Errorf("second send should reuse file id, got %+v", m.media[1].Attachment)
	}
}

func TestSendReupload(t *testing.T) {
	db, _ := setupDB(t)
	cache := filecache.New(store.NewCacheStore(db, t.TempDir()), t.TempDir())
	m := &fakeMessenger{files: map[string]string{"foreign": "pdf bytes"}}

	res := NewSend(m, cache, nil).Handle(context.Background(), parsed(map[string]any{
		"chat_id":    int64(42),
		"attachment": map[string]any{"type": "document", "file_id": "foreign", "file_name": "r.pdf", "reupload": true},
	}))
	if res.Status != store.StatusCompleted {
		t.Fatalf("status = %q: %v", res.Status, res.Response)
	}
	if len(m.downloads) != 1 || m.downloads[0] != "foreign" {
		t.Errorf("downloads = %v", m.downloads)
	}
	att := m.media[0].Attachment
	if att.FileID != "" || filepath.Ext(att.Path) != ".pdf" {
		t.Errorf("attachment = %+v, want upload of downloaded file", att)
	}
}
