// Package meta sends messages through the Graph API Send endpoint, which
// Messenger and Instagram share.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/platform"
)

// Opts configures a Client.
type Opts struct {
	BaseURL    string // e.g. https://graph.facebook.com/v18.0
	Platform   string // messenger or instagram; selects profile fields
	HTTPClient *http.Client
}

// Client is a Graph API delivery gateway.
type Client struct {
	baseURL  string
	platform string
	http     *http.Client
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("meta: base URL is required")
	}
	switch opts.Platform {
	case platform.Messenger, platform.Instagram:
	default:
		return nil, fmt.Errorf("meta: unsupported platform %q", opts.Platform)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		platform: opts.Platform,
		http:     opts.HTTPClient,
	}, nil
}

type recipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient    recipient    `json:"recipient"`
	Message      *textMessage `json:"message,omitempty"`
	SenderAction string       `json:"sender_action,omitempty"`
	AccessToken  string       `json:"access_token"`
}

type textMessage struct {
	Text string `json:"text"`
}

// SendText posts a text message to the recipient.
func (c *Client) SendText(ctx context.Context, recipientID, text, credential string) error {
	return c.send(ctx, sendRequest{
		Recipient:   recipient{ID: recipientID},
		Message:     &textMessage{Text: text},
		AccessToken: credential,
	})
}

// SendTyping toggles the typing indicator.
func (c *Client) SendTyping(ctx context.Context, recipientID, credential string, on bool) error {
	action := "typing_off"
	if on {
		action = "typing_on"
	}
	return c.send(ctx, sendRequest{
		Recipient:    recipient{ID: recipientID},
		SenderAction: action,
		AccessToken:  credential,
	})
}

func (c *Client) send(ctx context.Context, body sendRequest) error {
	if body.AccessToken == "" {
		return delivery.ErrMissingCredential
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("meta: encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/me/messages", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("meta: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meta: send to %s: %w", body.Recipient.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("meta: send to %s: status=%d body=%s", body.Recipient.ID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

type profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Name      string `json:"name"`
	Username  string `json:"username"`
}

// ProfileName looks up the customer's display name. Lookups are best-effort
// enrichment, so an unavailable profile yields an empty name and an error
// only for transport failures.
func (c *Client) ProfileName(ctx context.Context, userID, credential string) (string, error) {
	if credential == "" {
		return "", delivery.ErrMissingCredential
	}
	fields := "first_name,last_name"
	if c.platform == platform.Instagram {
		fields = "name,username"
	}
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("access_token", credential)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(userID)+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("meta: build profile request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("meta: profile %s: %w", userID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return "", nil
	}
	if c.platform == platform.Instagram {
		if p.Name != "" {
			return p.Name, nil
		}
		return p.Username, nil
	}
	return strings.TrimSpace(strings.Join([]string{p.FirstName, p.LastName}, " ")), nil
}
