package mtproto

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/telegram"
)

// ErrUnknownFile is returned by DownloadFile for file ids never seen in an
// update.
var ErrUnknownFile = errors.New("file not seen over mtproto")

// DefaultFileMemory bounds how many attachments are kept for download.
const DefaultFileMemory = 1000

// Config holds MTProto connection settings.
type Config struct {
	AppID       int
	AppHash     string
	BotToken    string
	SessionPath string
	FileMemory  int
}

// Handler receives parsed events.
type Handler func(ctx context.Context, e event.Event)

// Client logs in as the bot over MTProto, turns incoming updates into events
// and downloads the media those events carry.
type Client struct {
	cfg    Config
	client *tdtelegram.Client
	peers  *PeerFactory

	parser  *Parser
	handler Handler

	mu    sync.Mutex
	files *orderedmap.OrderedMap[string, map[string]any]

	answer   func(ctx context.Context, queryID int64) error
	download func(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error
}

// NewClient creates a Client. Nothing connects until Start.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, errors.New("mtproto app_id and app_hash are required")
	}
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.FileMemory <= 0 {
		cfg.FileMemory = DefaultFileMemory
	}
	c := &Client{
		cfg:   cfg,
		files: orderedmap.NewOrderedMap[string, map[string]any](),
	}

	d := tg.NewUpdateDispatcher()
	d.OnNewMessage(func(ctx context.Context, ents tg.Entities, u *tg.UpdateNewMessage) error {
		c.onMessage(ctx, ents, u.Message)
		return nil
	})
	d.OnNewChannelMessage(func(ctx context.Context, ents tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.onMessage(ctx, ents, u.Message)
		return nil
	})
	d.OnBotCallbackQuery(func(ctx context.Context, ents tg.Entities, u *tg.UpdateBotCallbackQuery) error {
		c.onCallback(ctx, ents, u)
		return nil
	})

	opts := tdtelegram.Options{UpdateHandler: d}
	if cfg.SessionPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0o700); err != nil {
			return nil, errors.Wrap(err, "create session dir")
		}
		opts.SessionStorage = &session.FileStorage{Path: cfg.SessionPath}
	}
	c.client = tdtelegram.NewClient(cfg.AppID, cfg.AppHash, opts)

	api := c.client.API()
	c.peers = NewPeerFactory(api, 0)
	c.answer = func(ctx context.Context, queryID int64) error {
		_, err := api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{QueryID: queryID})
		return err
	}
	dl := downloader.NewDownloader()
	c.download = func(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error {
		_, err := dl.Download(api, loc).Stream(ctx, w)
		return err
	}
	return c, nil
}

// Bind sets the parser and the handler receiving events.
func (c *Client) Bind(parser *Parser, h Handler) {
	c.parser = parser
	c.handler = h
}

// Peers returns the peer factory fed by update entities.
func (c *Client) Peers() *PeerFactory { return c.peers }

// Start connects, authorizes the bot when the session is new and receives
// updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	log := logging.WithComponent("telegram")
	log.Info("Connecting over MTProto", "session", c.cfg.SessionPath)
	err := c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "auth status")
		}
		if !status.Authorized {
			if _, err := c.client.Auth().Bot(ctx, c.cfg.BotToken); err != nil {
				return errors.Wrap(err, "bot login")
			}
		}
		log.Info("MTProto session ready")
		<-ctx.Done()
		return ctx.Err()
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("MTProto updates stopped")
	return err
}

func (c *Client) onMessage(ctx context.Context, ents tg.Entities, msg tg.MessageClass) {
	c.peers.Remember(ents)
	if c.parser == nil || c.handler == nil {
		return
	}
	log := logging.WithComponent("telegram")

	var e event.Event
	var err error
	switch m := msg.(type) {
	case *tg.Message:
		if m.Out {
			return
		}
		e, err = c.parser.ParseMessage(m, ents)
	case *tg.MessageService:
		e, err = c.parser.ParseService(m, ents)
	default:
		return
	}
	if err != nil {
		log.Debug("Unsupported message skipped", "error", err)
		return
	}
	if e == nil {
		return
	}
	c.rememberFiles(e)
	c.handler(ctx, e)
}

func (c *Client) onCallback(ctx context.Context, ents tg.Entities, u *tg.UpdateBotCallbackQuery) {
	c.peers.Remember(ents)
	log := logging.WithComponent("telegram")
	// stop the client-side spinner
	if err := c.answer(ctx, u.QueryID); err != nil {
		log.Debug("Answer callback failed", "error", err)
	}
	if c.parser == nil || c.handler == nil {
		return
	}
	e, err := c.parser.ParseCallback(u, ents)
	if err != nil {
		log.Debug("Unsupported callback skipped", "error", err)
		return
	}
	c.handler(ctx, e)
}

// rememberFiles keeps the attachments of e so DownloadFile can rebuild their
// locations. The oldest entries are evicted past FileMemory.
func (c *Client) rememberFiles(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, att := range e.Attachments() {
		id, _ := att["file_id"].(string)
		if id == "" {
			continue
		}
		c.files.Delete(id)
		c.files.Set(id, att)
	}
	for c.files.Len() > c.cfg.FileMemory {
		c.files.Delete(c.files.Front().Key)
	}
}

// DownloadFile streams an attachment seen in an earlier update into w.
func (c *Client) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	c.mu.Lock()
	att, ok := c.files.Get(fileID)
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownFile, "file %s", fileID)
	}
	loc, err := InputLocation(att)
	if err != nil {
		return errors.Wrap(err, "input location")
	}
	if err := c.download(ctx, loc, w); err != nil {
		return errors.Wrapf(err, "download %s", fileID)
	}
	return nil
}

// IsFileID reports whether id has the form produced by this package.
func IsFileID(id string) bool {
	return strings.HasPrefix(id, "photo:") || strings.HasPrefix(id, "document:")
}

// Messenger sends through the wrapped Messenger and serves downloads of
// MTProto file ids and entity lookups over MTProto.
type Messenger struct {
	telegram.Messenger
	client *Client
}

// NewMessenger wraps next.
func NewMessenger(next telegram.Messenger, c *Client) *Messenger {
	return &Messenger{Messenger: next, client: c}
}

// DownloadFile downloads MTProto file ids itself and delegates the rest.
func (m *Messenger) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	if IsFileID(fileID) {
		return m.client.DownloadFile(ctx, fileID, w)
	}
	return m.Messenger.DownloadFile(ctx, fileID, w)
}

// GetEntity resolves id through the peer factory.
func (m *Messenger) GetEntity(ctx context.Context, id int64) (*telegram.Entity, error) {
	p, err := m.client.peers.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	ent := p.Entity
	return &ent, nil
}
