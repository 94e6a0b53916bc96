package telegram

// Batch kinds, in send order.
const (
	KindMedia     = "media"
	KindDocument  = "document"
	KindAnimation = "animation"
	KindAudio     = "audio"
)

// MaxGroupSize is the Bot API limit of items per media group.
const MaxGroupSize = 10

// Batch is a set of attachments sent in one call. A single-item batch uses the
// type-specific send call, larger ones a media group.
type Batch struct {
	Kind        string
	Attachments []Attachment
}

// IsGroup reports whether the batch goes out as a media group.
func (b Batch) IsGroup() bool { return len(b.Attachments) > 1 }

// Kind classifies an attachment type into its batch kind.
func Kind(attachmentType string) string {
	switch attachmentType {
	case AttachPhoto, AttachVideo:
		return KindMedia
	case AttachAnimation, AttachAnimatedSticker, AttachSticker:
		return KindAnimation
	case AttachAudio, AttachVoice:
		return KindAudio
	}
	return KindDocument
}

// GroupAttachments splits attachments into send batches. Photos and videos
// share media groups and documents get their own, both chunked to
// MaxGroupSize; animations and audio always go one per message. Batches are
// ordered media, document, animation, audio, keeping arrival order inside
// each kind.
func GroupAttachments(atts []Attachment) []Batch {
	byKind := map[string][]Attachment{}
	for _, a := range atts {
		k := Kind(a.Type)
		byKind[k] = append(byKind[k], a)
	}

	var out []Batch
	for _, k := range []string{KindMedia, KindDocument} {
		items := byKind[k]
		for len(items) > 0 {
			n := min(len(items), MaxGroupSize)
			out = append(out, Batch{Kind: k, Attachments: items[:n:n]})
			items = items[n:]
		}
	}
	for _, k := range []string{KindAnimation, KindAudio} {
		for _, a := range byKind[k] {
			out = append(out, Batch{Kind: k, Attachments: []Attachment{a}})
		}
	}
	return out
}
