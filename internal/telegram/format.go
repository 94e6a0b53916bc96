package telegram

import (
	"html"
	"mime"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// TextEntity is a formatting span. Offset and Length count UTF-16 code units.
type TextEntity struct {
	Type   string
	Offset int
	Length int
	URL    string
	UserID int64
	Lang   string
}

// RenderHTML renders text with entities as Telegram HTML.
func RenderHTML(text string, entities []TextEntity) string {
	return render(text, entities, htmlOpen, htmlClose, html.EscapeString)
}

// RenderMarkdown renders text with entities as Telegram MarkdownV2.
func RenderMarkdown(text string, entities []TextEntity) string {
	return render(text, entities, mdOpen, mdClose, escapeMarkdown)
}

func htmlOpen(e TextEntity) string {
	switch e.Type {
	case "bold":
		return "<b>"
	case "italic":
		return "<i>"
	case "underline":
		return "<u>"
	case "strikethrough":
		return "<s>"
	case "spoiler":
		return `<span class="tg-spoiler">`
	case "code":
		return "<code>"
	case "pre":
		if e.Lang != "" {
			return `<pre><code class="language-` + html.EscapeString(e.Lang) + `">`
		}
		return "<pre>"
	case "text_link":
		return `<a href="` + html.EscapeString(e.URL) + `">`
	case "text_mention":
		return `<a href="tg://user?id=` + itoa(e.UserID) + `">`
	case "blockquote":
		return "<blockquote>"
	}
	return ""
}

func htmlClose(e TextEntity) string {
	switch e.Type {
	case "bold":
		return "</b>"
	case "italic":
		return "</i>"
	case "underline":
		return "</u>"
	case "strikethrough":
		return "</s>"
	case "spoiler":
		return "</span>"
	case "code":
		return "</code>"
	case "pre":
		if e.Lang != "" {
			return "</code></pre>"
		}
		return "</pre>"
	case "text_link", "text_mention":
		return "</a>"
	case "blockquote":
		return "</blockquote>"
	}
	return ""
}

func mdOpen(e TextEntity) string {
	switch e.Type {
	case "bold":
		return "*"
	case "italic":
		return "_"
	case "underline":
		return "__"
	case "strikethrough":
		return "~"
	case "spoiler":
		return "||"
	case "code":
		return "`"
	case "pre":
		return "```" + e.Lang + "\n"
	case "text_link", "text_mention":
		return "["
	}
	return ""
}

func mdClose(e TextEntity) string {
	switch e.Type {
	case "bold":
		return "*"
	case "italic":
		return "_"
	case "underline":
		return "__"
	case "strikethrough":
		return "~"
	case "spoiler":
		return "||"
	case "code":
		return "`"
	case "pre":
		return "\n```"
	case "text_link":
		return "](" + e.URL + ")"
	case "text_mention":
		return "](tg://user?id=" + itoa(e.UserID) + ")"
	}
	return ""
}

const markdownSpecial = "_*[]()~`>#+-=|{}.!\\"

func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func render(text string, entities []TextEntity, open, close func(TextEntity) string, escape func(string) string) string {
	if len(entities) == 0 {
		return escape(text)
	}
	sorted := append([]TextEntity(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Offset != sorted[j].Offset {
			return sorted[i].Offset < sorted[j].Offset
		}
		return sorted[i].Length > sorted[j].Length
	})

	var out, seg strings.Builder
	var stack []TextEntity
	flush := func() {
		out.WriteString(escape(seg.String()))
		seg.Reset()
	}
	closeUntil := func(pos int) {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.Offset+top.Length > pos {
				return
			}
			flush()
			out.WriteString(close(top))
			stack = stack[:len(stack)-1]
		}
	}

	pos, next := 0, 0
	for _, r := range text {
		closeUntil(pos)
		for next < len(sorted) && sorted[next].Offset <= pos {
			flush()
			out.WriteString(open(sorted[next]))
			stack = append(stack, sorted[next])
			next++
		}
		seg.WriteRune(r)
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		pos += n
	}
	closeUntil(pos)
	flush()
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString(close(stack[i]))
	}
	return out.String()
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// TypeFromMIME maps a MIME type (or, failing that, the file extension) to an
// attachment type: GIFs are animations, image/* photos, video/* videos,
// audio/* audio and everything else a document.
func TypeFromMIME(mimeType, fileName string) string {
	if mimeType == "" && fileName != "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	}
	mimeType = strings.ToLower(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case mimeType == "image/gif" || strings.HasSuffix(strings.ToLower(fileName), ".gif"):
		return AttachAnimation
	case mimeType == "application/x-tgsticker":
		return AttachAnimatedSticker
	case strings.HasPrefix(mimeType, "image/"):
		return AttachPhoto
	case strings.HasPrefix(mimeType, "video/"):
		return AttachVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return AttachAudio
	}
	return AttachDocument
}
