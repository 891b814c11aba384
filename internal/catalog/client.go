// Package catalog queries a shop's Storefront GraphQL API and exposes the
// lookups to the agent as tools.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingCredentials is returned when the shop has no storefront endpoint
// or access token configured.
var ErrMissingCredentials = errors.New("catalog: missing storefront credentials")

// APIVersion is the Storefront API version used when an endpoint is built
// from a bare shop domain.
const APIVersion = "2024-10"

const tokenHeader = "X-Shopify-Storefront-Access-Token"

// Opts configures a Client.
type Opts struct {
	Endpoint    string // full GraphQL URL or bare shop domain
	AccessToken string
	HTTPClient  *http.Client
}

// Client is a minimal Storefront GraphQL client.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New creates a Client. Missing credentials are reported on first query so a
// misconfigured shop still gets an agent with tools that explain the problem.
func New(opts Opts) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{endpoint: Endpoint(opts.Endpoint), token: opts.AccessToken, http: hc}
}

// Endpoint normalizes a shop domain into a Storefront GraphQL URL. Values
// that already carry a scheme are returned unchanged.
func Endpoint(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + strings.TrimSuffix(domain, "/") + "/api/" + APIVersion + "/graphql.json"
}

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message string `json:"message"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query posts a GraphQL document and decodes data into out. GraphQL-level
// errors are returned alongside a nil error so callers can surface them.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) ([]GraphQLError, error) {
	if c.endpoint == "" || c.token == "" {
		return nil, ErrMissingCredentials
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("catalog: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("catalog: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("catalog: storefront returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("catalog: non-JSON response: %w", err)
	}
	if out != nil && len(gr.Data) > 0 && string(gr.Data) != "null" {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return gr.Errors, fmt.Errorf("catalog: decode data: %w", err)
		}
	}
	return gr.Errors, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
