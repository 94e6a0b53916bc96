package mtproto

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/telegram"
)

// ErrPeerNotFound is returned when no peer type accepts the id.
var ErrPeerNotFound = errors.New("peer not found")

// DefaultProbeTimeout bounds every single probe request.
const DefaultProbeTimeout = 10 * time.Second

// Errors that mean "this id is not of the probed type".
var wrongTypeErrors = []string{"PEER_ID_INVALID", "CHANNEL_INVALID", "CHAT_INVALID", "USER_ID_INVALID"}

// PeerAPI is the subset of *tg.Client used for peer probing.
type PeerAPI interface {
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
	UsersGetUsers(ctx context.Context, id []tg.InputUserClass) ([]tg.UserClass, error)
}

// Peer is a resolved peer.
type Peer struct {
	RawID      int64
	Type       string
	AccessHash int64
	// Restricted is set when the server confirmed the type but denied access.
	Restricted bool
	Entity     telegram.Entity
}

// BotID returns the Bot API form of the peer id.
func (p Peer) BotID() int64 { return telegram.NormalizeID(p.RawID, p.Type) }

// PeerFactory resolves raw ids of unknown type by probing channel, then chat,
// then user. Results and access hashes are cached.
type PeerFactory struct {
	api     PeerAPI
	timeout time.Duration

	mu     sync.Mutex
	hashes map[string]int64
	peers  map[int64]Peer
}

// NewPeerFactory creates a PeerFactory. timeout <= 0 selects DefaultProbeTimeout.
func NewPeerFactory(api PeerAPI, timeout time.Duration) *PeerFactory {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &PeerFactory{
		api:     api,
		timeout: timeout,
		hashes:  make(map[string]int64),
		peers:   make(map[int64]Peer),
	}
}

// Remember stores access hashes observed in update entities.
func (f *PeerFactory) Remember(ents tg.Entities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range ents.Users {
		f.hashes[hashKey(telegram.PeerUser, id)] = u.AccessHash
	}
	for id, c := range ents.Channels {
		f.hashes[hashKey(telegram.PeerChannel, id)] = c.AccessHash
	}
}

// Resolve resolves id, which may be either a Bot API id or a raw MTProto id.
func (f *PeerFactory) Resolve(ctx context.Context, id int64) (Peer, error) {
	raw, typ := telegram.RawID(id)
	f.mu.Lock()
	if p, ok := f.peers[id]; ok {
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	log := logging.WithComponent("peers")

	// A negative Bot API id already carries its type.
	probes := []string{telegram.PeerChannel, telegram.PeerChat, telegram.PeerUser}
	if id < 0 {
		probes = []string{typ}
	}

	for _, pt := range probes {
		p, err := f.probe(ctx, raw, pt)
		if err == nil {
			f.store(id, p)
			return p, nil
		}
		if tgerr.Is(err, wrongTypeErrors...) || errors.Is(err, ErrPeerNotFound) {
			log.Debug("peer probe rejected", "id", raw, "type", pt, "error", err)
			continue
		}
		if rpcErr, ok := tgerr.As(err); ok {
			// access errors confirm the type
			log.Debug("peer confirmed by access error", "id", raw, "type", pt, "error", rpcErr.Type)
			p := Peer{RawID: raw, Type: pt, Restricted: true}
			p.Entity = telegram.Entity{ID: p.BotID(), Type: pt}
			f.store(id, p)
			return p, nil
		}
		return Peer{}, errors.Wrapf(err, "probe %s %d", pt, raw)
	}
	return Peer{}, errors.Wrapf(ErrPeerNotFound, "id %d", id)
}

func (f *PeerFactory) probe(ctx context.Context, raw int64, pt string) (Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	switch pt {
	case telegram.PeerChannel:
		res, err := f.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
			&tg.InputChannel{ChannelID: raw, AccessHash: f.hash(pt, raw)},
		})
		if err != nil {
			return Peer{}, err
		}
		for _, c := range res.GetChats() {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == raw {
				p := Peer{RawID: raw, Type: pt, AccessHash: ch.AccessHash}
				p.Entity = telegram.Entity{ID: p.BotID(), Type: pt, Title: ch.Title, Username: ch.Username}
				return p, nil
			}
		}
	case telegram.PeerChat:
		res, err := f.api.MessagesGetChats(ctx, []int64{raw})
		if err != nil {
			return Peer{}, err
		}
		for _, c := range res.GetChats() {
			if ch, ok := c.(*tg.Chat); ok && ch.ID == raw {
				p := Peer{RawID: raw, Type: pt}
				p.Entity = telegram.Entity{ID: p.BotID(), Type: pt, Title: ch.Title}
				return p, nil
			}
		}
	case telegram.PeerUser:
		res, err := f.api.UsersGetUsers(ctx, []tg.InputUserClass{
			&tg.InputUser{UserID: raw, AccessHash: f.hash(pt, raw)},
		})
		if err != nil {
			return Peer{}, err
		}
		for _, u := range res {
			if usr, ok := u.(*tg.User); ok && usr.ID == raw {
				p := Peer{RawID: raw, Type: pt, AccessHash: usr.AccessHash}
				p.Entity = telegram.Entity{
					ID: raw, Type: pt, Username: usr.Username,
					FirstName: usr.FirstName, LastName: usr.LastName,
				}
				return p, nil
			}
		}
	default:
		return Peer{}, errors.Errorf("unknown peer type %q", pt)
	}
	return Peer{}, ErrPeerNotFound
}

func (f *PeerFactory) hash(pt string, raw int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[hashKey(pt, raw)]
}

func (f *PeerFactory) store(id int64, p Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[id] = p
	if p.AccessHash != 0 {
		f.hashes[hashKey(p.Type, p.RawID)] = p.AccessHash
	}
}

func hashKey(pt string, raw int64) string {
	return pt + ":" + strconv.FormatInt(raw, 10)
}
