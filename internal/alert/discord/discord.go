// Package discord posts operator alerts to a Discord channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/shoprelay/internal/alert"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements alert.Notifier for Discord. Only the REST API is used,
// so no gateway connection is opened.
type Notifier struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	n := &Notifier{sess: opts.Session, channelID: opts.ChannelID, baseBackoff: baseBackoff}
	if n.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = dg
	}
	return n, nil
}

// Notify sends a as an embed.
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	data := buildMessageSend(a)
	err := n.retryOnRateLimit(ctx, func() error {
		_, sendErr := n.sess.ChannelMessageSendComplex(n.channelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// buildMessageSend translates an Alert into a Discord MessageSend.
func buildMessageSend(a alert.Alert) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       parseHexColor(alert.SeverityColor(a.Severity)),
	}
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
