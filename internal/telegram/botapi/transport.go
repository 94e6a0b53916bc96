package botapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/alekspetrov/scenarist/internal/event"
	"github.com/alekspetrov/scenarist/internal/logging"
)

// Config holds Bot API connection settings.
type Config struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// Handler receives parsed events.
type Handler func(ctx context.Context, e event.Event)

var allowedUpdates = bot.AllowedUpdates{
	"message",
	"channel_post",
	"callback_query",
}

// Transport long-polls the Bot API and hands parsed events to a Handler.
type Transport struct {
	bot     *bot.Bot
	parser  *Parser
	handler Handler
}

// NewBot creates the Bot API client. Updates reaching the default handler are
// forwarded to h through the transport returned by NewTransport.
func NewBot(cfg Config, opts ...bot.Option) (*bot.Bot, *Transport, error) {
	if cfg.Token == "" {
		return nil, nil, fmt.Errorf("telegram bot token is required")
	}
	t := &Transport{}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	options := []bot.Option{
		bot.WithAllowedUpdates(allowedUpdates),
		bot.WithDefaultHandler(t.handle),
		bot.WithErrorsHandler(func(err error) {
			logging.WithComponent("telegram").Warn("Polling error", "error", err)
		}),
		bot.WithHTTPClient(pollTimeout, &http.Client{Timeout: pollTimeout + 10*time.Second}),
	}
	if cfg.APIURL != "" {
		options = append(options, bot.WithServerURL(cfg.APIURL))
	}
	options = append(options, opts...)

	b, err := bot.New(cfg.Token, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	t.bot = b
	return b, t, nil
}

// Bind sets the parser and the handler receiving events.
func (t *Transport) Bind(parser *Parser, h Handler) {
	t.parser = parser
	t.handler = h
}

// Start polls until ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	log := logging.WithComponent("telegram")
	log.Info("Starting long polling")
	t.bot.Start(ctx)
	log.Info("Long polling stopped")
	return nil
}

func (t *Transport) handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if t.parser == nil || t.handler == nil {
		return
	}
	if update.CallbackQuery != nil {
		// stop the client-side spinner
		if _, err := t.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: update.CallbackQuery.ID,
		}); err != nil {
			logging.WithComponent("telegram").Debug("Answer callback failed", "error", err)
		}
	}
	e, ok := t.parser.ParseUpdate(update)
	if !ok {
		logging.WithComponent("telegram").Debug("Unsupported update skipped", "update_id", update.ID)
		return
	}
	t.handler(ctx, e)
}
