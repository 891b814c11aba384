// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/shoprelay/internal/delivery"
)

// Opts configures a Client.
type Opts struct {
	Endpoint   string // format string with token and method; defaults to tgbotapi.APIEndpoint
	HTTPClient *http.Client
}

// Client is a delivery gateway keyed by bot token. Each shop's bot is
// initialized on first use and cached.
type Client struct {
	endpoint string
	http     *http.Client

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// New creates a Client.
func New(opts Opts) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: opts.Endpoint,
		http:     opts.HTTPClient,
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

func (c *Client) bot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, delivery.ErrMissingCredential
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}
	b, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.http)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	c.bots[token] = b
	return b, nil
}

func chatID(recipientID string) (int64, error) {
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", recipientID, err)
	}
	return id, nil
}

// SendText sends a plain message to the chat.
func (c *Client) SendText(ctx context.Context, recipientID, text, credential string) error {
	b, err := c.bot(credential)
	if err != nil {
		return err
	}
	id, err := chatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := b.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", id, err)
	}
	return nil
}

// SendTyping shows the typing action. Telegram clears it by itself after a
// few seconds or on the next message, so turning it off is a no-op.
func (c *Client) SendTyping(ctx context.Context, recipientID, credential string, on bool) error {
	b, err := c.bot(credential)
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	id, err := chatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := b.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram: typing to %d: %w", id, err)
	}
	return nil
}
