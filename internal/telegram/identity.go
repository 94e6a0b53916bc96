package telegram

import (
	"strconv"
	"strings"

	"github.com/alekspetrov/scenarist/internal/flat"
)

// Peer types.
const (
	PeerUser    = "user"
	PeerChat    = "chat"
	PeerChannel = "channel"
)

// channelOffset is the Bot API prefix of supergroup and channel ids (-100...).
const channelOffset int64 = 1_000_000_000_000

// NormalizeID converts a raw id of the given peer type into the Bot API
// form: users stay positive, basic groups become -id and channels become
// -100id. Already negative ids, and ids of unknown type, pass through.
func NormalizeID(id int64, peerType string) int64 {
	if id <= 0 {
		return id
	}
	switch peerType {
	case PeerChat:
		return -id
	case PeerChannel:
		return -(channelOffset + id)
	}
	return id
}

// PeerTypeOf infers the peer type of a Bot API id.
func PeerTypeOf(botID int64) string {
	switch {
	case botID > 0:
		return PeerUser
	case botID <= -channelOffset:
		return PeerChannel
	case botID < 0:
		return PeerChat
	}
	return ""
}

// RawID strips the Bot API sign and channel prefix, returning the MTProto id
// and its peer type.
func RawID(botID int64) (int64, string) {
	switch PeerTypeOf(botID) {
	case PeerChannel:
		return -botID - channelOffset, PeerChannel
	case PeerChat:
		return -botID, PeerChat
	case PeerUser:
		return botID, PeerUser
	}
	return 0, ""
}

// ParseEntityID accepts ints, numeric strings and "type:id" strings
// ("channel:123") and returns the normalized Bot API id.
func ParseEntityID(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if typ, raw, found := strings.Cut(s, ":"); found {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return 0, false
			}
			return NormalizeID(id, typ), true
		}
	}
	id, ok := flat.AsInt64(v)
	if !ok {
		return 0, false
	}
	return id, true
}

// CompareEntityIDs reports whether a and b name the same entity once both are
// normalized. Unparseable ids never compare equal.
func CompareEntityIDs(a, b any) bool {
	x, ok := ParseEntityID(a)
	if !ok {
		return false
	}
	y, ok := ParseEntityID(b)
	if !ok {
		return false
	}
	return x == y
}
