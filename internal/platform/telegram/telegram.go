// Package telegram parses Telegram Bot API webhook updates.
package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/shoprelay/internal/platform"
)

// Adapter handles updates posted to a bot's webhook. The bot id is taken
// from the webhook route since updates do not name the receiving bot.
type Adapter struct{}

// New returns the Telegram adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() string       { return platform.Telegram }
func (a *Adapter) AccountIDField() string { return "telegram_bot_id" }

// ParseEvents decodes a single update. Only new text messages produce an
// event; edits, callbacks and media are skipped.
func (a *Adapter) ParseEvents(body []byte, botID string) ([]platform.Event, error) {
	var u tgbotapi.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}
	m := u.Message
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return nil, nil
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	ev := platform.Event{
		Platform:          platform.Telegram,
		AccountID:         botID,
		SenderID:          chatID,
		RecipientID:       botID,
		Text:              m.Text,
		PlatformMessageID: chatID + ":" + strconv.Itoa(m.MessageID),
		Timestamp:         time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		ev.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		if ev.SenderName == "" {
			ev.SenderName = m.From.UserName
		}
		ev.Echo = m.From.IsBot && strconv.FormatInt(m.From.ID, 10) == botID
	}
	return []platform.Event{ev}, nil
}

// IsEcho reports messages authored by the receiving bot.
func (a *Adapter) IsEcho(ev platform.Event) bool { return ev.Echo }
