package worker

import (
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/scenario"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/trigger"
)

// Text limits, in characters.
const (
	MaxTextLen    = 4080
	MaxCaptionLen = 1000
)

const ellipsis = "..."

// Send action keys.
const (
	KeyText           = "text"
	KeyAdditionalText = "additional_text"
	KeyParseMode      = "parse_mode"
	KeyAttachment     = "attachment"
	KeyInline         = "inline"
	KeyReply          = "reply"
	KeyCallbackEdit   = "callback_edit"
	KeyRemove         = "remove"
	KeyMessageReply   = "message_reply"
	KeyExactMessageID = "exact_message_id"
	KeyPrivateAnswer  = "private_answer"
	KeyReupload       = "reupload"
)

// flags are the mutually exclusive send modes.
type flags struct {
	reply  bool
	edit   bool
	remove bool
}

// resolveFlags applies the send mode rules: editing cannot change media, and
// message_reply beats callback_edit which beats remove.
func resolveFlags(d flat.Map, hasAttachments bool, log *slog.Logger) flags {
	f := flags{
		reply:  d.Bool(KeyMessageReply),
		edit:   d.Bool(KeyCallbackEdit),
		remove: d.Bool(KeyRemove),
	}
	if f.edit && hasAttachments {
		log.Warn("callback_edit ignored for a message with attachments")
		f.edit = false
	}
	if f.reply && (f.edit || f.remove) {
		log.Warn("message_reply overrides callback_edit and remove",
			slog.Bool("callback_edit", f.edit), slog.Bool("remove", f.remove))
		f.edit, f.remove = false, false
	}
	if f.edit && f.remove {
		log.Warn("callback_edit overrides remove")
		f.remove = false
	}
	return f
}

// composeText joins text and additional_text.
func composeText(d flat.Map) string {
	return d.String(KeyText) + d.String(KeyAdditionalText)
}

// truncate clamps s to limit characters, ending with an ellipsis.
func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit-len(ellipsis)]) + ellipsis, true
}

// parseMode maps scenario spellings to Bot API parse modes.
func parseMode(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return "HTML"
	case "markdown", "md":
		return "Markdown"
	case "markdownv2", "markdown_v2", "mdv2":
		return "MarkdownV2"
	}
	return ""
}

// buildKeyboard turns inline or reply definitions into markup. Inline wins;
// an empty reply list removes the current reply keyboard.
func buildKeyboard(d flat.Map, buttons *trigger.ButtonMapper) *telegram.Keyboard {
	if rows := scenario.ParseInline(d[KeyInline]); len(rows) > 0 {
		k := &telegram.Keyboard{}
		for _, row := range rows {
			out := make([]telegram.Button, 0, len(row))
			for _, b := range row {
				out = append(out, inlineButton(b, buttons))
			}
			k.Inline = append(k.Inline, out)
		}
		return k
	}
	if rows, present := scenario.ParseReply(d[KeyReply]); present {
		if len(rows) == 0 {
			return &telegram.Keyboard{RemoveReply: true}
		}
		return &telegram.Keyboard{Reply: rows}
	}
	return nil
}

func inlineButton(b scenario.Button, buttons *trigger.ButtonMapper) telegram.Button {
	out := telegram.Button{Text: b.Text, URL: b.URL, CallbackData: b.CallbackData}
	switch {
	case out.URL != "" || out.CallbackData != "":
	case b.Scenario != "":
		out.CallbackData = ":" + b.Scenario
	case buttons != nil:
		out.CallbackData = buttons.Callback(b.Text)
	default:
		out.CallbackData = trigger.Normalize(b.Text)
	}
	return out
}

// outgoing is an attachment being prepared for sending.
type outgoing struct {
	att      telegram.Attachment
	reupload bool
	hash     string
}

// parseAttachments reads the attachment key: a scalar, a mapping or a list of
// either. Strings with a scheme are URLs, strings with an extension or a
// directory are local paths, anything else is a Telegram file id.
func parseAttachments(v any) []outgoing {
	if v == nil {
		return nil
	}
	items, ok := flat.AsList(v)
	if !ok {
		items = []any{v}
	}
	var out []outgoing
	for _, item := range items {
		if o, ok := parseAttachment(item); ok {
			out = append(out, o)
		}
	}
	return out
}

func parseAttachment(v any) (outgoing, bool) {
	if m, ok := flat.AsMap(v); ok {
		a := telegram.Attachment{
			Type:     m.String("type"),
			FileID:   m.String("file_id"),
			URL:      m.String("url"),
			Path:     m.String("path"),
			FileName: m.String("file_name"),
		}
		if a.FileID == "" && a.URL == "" && a.Path == "" {
			return outgoing{}, false
		}
		if a.Type == "" {
			a.Type = typeOf(a, m.String("mime_type"))
		}
		return outgoing{att: a, reupload: m.Bool(KeyReupload)}, true
	}

	s, ok := flat.AsString(v)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return outgoing{}, false
	}
	var a telegram.Attachment
	switch {
	case strings.Contains(s, "://"):
		a.URL = s
	case filepath.Ext(s) != "" || strings.ContainsRune(s, '/'):
		a.Path = s
	default:
		a.FileID = s
	}
	a.Type = typeOf(a, "")
	return outgoing{att: a}, true
}

func typeOf(a telegram.Attachment, mimeType string) string {
	name := a.FileName
	if name == "" {
		name = a.Path
	}
	if name == "" && a.URL != "" {
		name = a.URL
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	if mimeType == "" && name == "" {
		return telegram.AttachDocument
	}
	return telegram.TypeFromMIME(mimeType, name)
}
