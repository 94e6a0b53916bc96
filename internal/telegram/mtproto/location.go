package mtproto

import (
	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/telegram"
)

// InputLocation rebuilds the download location of an attachment produced by
// ParseMessage, including after a round trip through a JSON column.
func InputLocation(att map[string]any) (tg.InputFileLocationClass, error) {
	m := flat.Map(att)
	id, ok := m.Int64("id")
	if !ok {
		return nil, errors.New("attachment has no id")
	}
	hash, _ := m.Int64("access_hash")
	ref, _ := att["file_reference"].([]byte)

	switch m.String("type") {
	case telegram.AttachPhoto:
		size := m.String("size_type")
		if size == "" {
			size = m.String("thumb_size")
		}
		if size == "" {
			return nil, errors.New("photo attachment has no size type")
		}
		return &tg.InputPhotoFileLocation{
			ID:            id,
			AccessHash:    hash,
			FileReference: ref,
			ThumbSize:     size,
		}, nil
	case "":
		return nil, errors.New("attachment has no type")
	}
	return &tg.InputDocumentFileLocation{
		ID:            id,
		AccessHash:    hash,
		FileReference: ref,
	}, nil
}
