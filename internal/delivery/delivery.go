// Package delivery is the outbound boundary: sending text and typing
// indicators to a customer on a messaging platform.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/platform"
)

// ErrMissingCredential is returned when no access token is available for the
// recipient's platform.
var ErrMissingCredential = errors.New("delivery: missing credential")

// Gateway sends to one platform. Both calls fail on a missing credential or
// a non-2xx remote response.
type Gateway interface {
	SendText(ctx context.Context, recipientID, text, credential string) error
	SendTyping(ctx context.Context, recipientID, credential string, on bool) error
}

// ProfileNamer is implemented by gateways that can look up a customer's
// display name.
type ProfileNamer interface {
	ProfileName(ctx context.Context, userID, credential string) (string, error)
}

// Resolver returns the gateway for a platform.
type Resolver interface {
	For(platformName string) (Gateway, error)
}

// Router is a Resolver over a fixed set of gateways.
type Router struct {
	gateways map[string]Gateway
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{gateways: make(map[string]Gateway)}
}

// Register binds a gateway to a platform name.
func (r *Router) Register(platformName string, g Gateway) *Router {
	r.gateways[platformName] = g
	return r
}

// For returns the registered gateway.
func (r *Router) For(platformName string) (Gateway, error) {
	g, ok := r.gateways[platformName]
	if !ok {
		return nil, fmt.Errorf("delivery: no gateway for platform %q", platformName)
	}
	return g, nil
}

// Credential returns the shop's access token for a platform. Messenger and
// Instagram share the page token.
func Credential(shop *models.Shop, platformName string) string {
	if shop == nil {
		return ""
	}
	switch platformName {
	case platform.Messenger, platform.Instagram:
		return shop.MetaPageAccessToken
	case platform.Telegram:
		return shop.TelegramBotToken
	}
	return ""
}
