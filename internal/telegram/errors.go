package telegram

import (
	"errors"
	"strings"
)

var (
	// ErrReplyTargetGone means the message being replied to no longer exists.
	ErrReplyTargetGone = errors.New("reply target not found")
	// ErrTransient covers rate limits, timeouts and temporary network failures.
	ErrTransient = errors.New("transient telegram error")
	// ErrForbidden means the bot cannot write to the peer (blocked, kicked).
	ErrForbidden = errors.New("forbidden by telegram")
	// ErrMessageGone means the target message cannot be edited or deleted.
	ErrMessageGone = errors.New("message not found")
)

var replyGoneMarkers = []string{
	"message to be replied not found",
	"replied message not found",
	"reply message not found",
}

// IsReplyTargetGone reports whether err was caused by a missing reply target.
// Plain Bot API descriptions are recognized as well as the sentinel.
func IsReplyTargetGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReplyTargetGone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range replyGoneMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
