// Package slack posts operator alerts to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/shoprelay/internal/alert"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements alert.Notifier for Slack.
type Notifier struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	n := &Notifier{client: opts.Client, channelID: opts.ChannelID}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// Notify posts a as a colored attachment.
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	options := buildMessageOptions(a)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := n.client.PostMessage(n.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions translates an Alert into Slack MsgOptions.
func buildMessageOptions(a alert.Alert) []slackapi.MsgOption {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    alert.SeverityColor(a.Severity),
		Fallback: a.Title,
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionAttachments(att),
		slackapi.MsgOptionText(a.Title, false),
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
