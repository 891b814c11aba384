// Package meta parses Messenger and Instagram webhook deliveries, which share
// the Graph API entry[].messaging[] envelope.
package meta

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/shoprelay/internal/platform"
)

// payload is the subset of the Graph webhook body the relay reads.
type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Time      int64  `json:"time"`
		Messaging []struct {
			Sender    struct{ ID string } `json:"sender"`
			Recipient struct{ ID string } `json:"recipient"`
			Timestamp int64               `json:"timestamp"`
			Message   *struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Adapter handles one Graph product. Use NewMessenger or NewInstagram.
type Adapter struct {
	platform   string
	object     string
	accountCol string
}

// NewMessenger returns the Facebook Messenger adapter.
func NewMessenger() *Adapter {
	return &Adapter{platform: platform.Messenger, object: "page", accountCol: "meta_page_id"}
}

// NewInstagram returns the Instagram messaging adapter.
func NewInstagram() *Adapter {
	return &Adapter{platform: platform.Instagram, object: "instagram", accountCol: "instagram_account_id"}
}

func (a *Adapter) Platform() string       { return a.platform }
func (a *Adapter) AccountIDField() string { return a.accountCol }

// ParseEvents returns text messages from the body. Non-text events (reads,
// deliveries, attachments) are skipped. A body for a different object type
// yields no events.
func (a *Adapter) ParseEvents(body []byte, _ string) ([]platform.Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("meta: decode %s webhook: %w", a.platform, err)
	}
	if p.Object != a.object {
		return nil, nil
	}

	var events []platform.Event
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || strings.TrimSpace(m.Message.Text) == "" {
				continue
			}
			ts := time.Now()
			if m.Timestamp > 0 {
				ts = time.UnixMilli(m.Timestamp)
			}
			events = append(events, platform.Event{
				Platform:          a.platform,
				AccountID:         entry.ID,
				SenderID:          m.Sender.ID,
				RecipientID:       m.Recipient.ID,
				Text:              m.Message.Text,
				PlatformMessageID: m.Message.MID,
				Echo:              m.Message.IsEcho,
				Timestamp:         ts,
			})
		}
	}
	return events, nil
}

// IsEcho treats flagged echoes and messages sent by the account itself as
// echoes.
func (a *Adapter) IsEcho(ev platform.Event) bool {
	return ev.Echo || (ev.SenderID != "" && ev.SenderID == ev.AccountID)
}
