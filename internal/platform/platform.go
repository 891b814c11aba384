// Package platform defines the adapter boundary between a messaging
// platform's webhook wire format and the ingestion handler.
package platform

import "time"

// Platform names as stored on threads.
const (
	Messenger = "messenger"
	Instagram = "instagram"
	Telegram  = "telegram"
)

// Event is one normalized inbound message.
type Event struct {
	Platform          string
	AccountID         string // the shop's page, account or bot id
	SenderID          string
	RecipientID       string
	Text              string
	PlatformMessageID string
	SenderName        string // set when the platform supplies it inline
	Echo              bool   // platform flagged the event as our own send
	Timestamp         time.Time
}

// Adapter parses one platform's webhook payloads.
type Adapter interface {
	// Platform returns the platform name stored on threads.
	Platform() string
	// ParseEvents extracts text message events from a webhook body.
	// accountHint identifies the receiving account for platforms whose
	// payload does not carry it.
	ParseEvents(body []byte, accountHint string) ([]Event, error)
	// AccountIDField names the shop column that Event.AccountID matches.
	AccountIDField() string
	// IsEcho reports whether the event is a message the relay itself sent.
	IsEcho(ev Event) bool
}

// Registry maps platform names to adapters.
type Registry map[string]Adapter

// NewRegistry indexes adapters by their platform name.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for a platform.
func (r Registry) Get(name string) (Adapter, bool) {
	a, ok := r[name]
	return a, ok
}
